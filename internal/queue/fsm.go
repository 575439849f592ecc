package queue

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// ErrInvalidTransition is returned for any job status change outside the state machine.
var ErrInvalidTransition = errors.New("invalid job status transition")

var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending: {models.JobStatusActive},
	models.JobStatusActive:  {models.JobStatusCompleted, models.JobStatusFailed},
	models.JobStatusFailed:  {models.JobStatusPending, models.JobStatusDead},
}

// Transition validates a job status change.
func Transition(from, to models.JobStatus) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
