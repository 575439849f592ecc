package cache

import (
	"github.com/google/uuid"
)

// All keys share one namespace so the instance can share a Redis with other services.
const keyNamespace = "trustgate:"

// JobStatusKey holds the last reported status of a job.
func JobStatusKey(jobID uuid.UUID) string {
	return keyNamespace + "job:status:" + jobID.String()
}

// RateLimitKey counts requests per API key prefix in the current window.
func RateLimitKey(keyPrefix string) string {
	return keyNamespace + "ratelimit:" + keyPrefix
}

// WakeupChannel is the pub/sub channel announcing new jobs of a type.
func WakeupChannel(jobType string) string {
	return keyNamespace + "queue:wake:" + jobType
}
