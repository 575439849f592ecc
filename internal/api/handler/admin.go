package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/api/response"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/review"
	"github.com/kiranshivaraju/trustgate/internal/store"
	"github.com/kiranshivaraju/trustgate/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyPrefix  = "tg_"
	keyPrefixLen  = 8
	apiKeyRandLen = 24
)

// KeyAdmin manages a tenant's API keys.
type KeyAdmin interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
}

// GatePolicyStore reads and updates a tenant's gate policy.
type GatePolicyStore interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	UpdateGatePolicy(ctx context.Context, tenantID uuid.UUID, policy models.GatePolicy) error
}

var knownScopes = map[string]bool{
	models.ScopeRead:          true,
	models.ScopeIngest:        true,
	models.ScopeReview:        true,
	models.ScopeAdmin:         true,
	models.ScopePatternsAdmin: true,
}

// NewCreateKeyHandler serves POST /api/v1/admin/keys. The raw key is returned
// once and only its bcrypt hash is stored.
func NewCreateKeyHandler(st KeyAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		var req struct {
			Name   string   `json:"name"   validate:"required,max=100"`
			Scopes []string `json:"scopes" validate:"required,min=1"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		for _, s := range req.Scopes {
			if !knownScopes[s] {
				response.FromError(w, apperr.Validation("unknown scope %q", s))
				return
			}
		}

		raw, err := generateKey()
		if err != nil {
			response.FromError(w, err)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
		if err != nil {
			response.FromError(w, err)
			return
		}

		now := time.Now().UTC()
		key := &models.APIKey{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Name:      req.Name,
			KeyHash:   string(hash),
			KeyPrefix: raw[:keyPrefixLen],
			Scopes:    req.Scopes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.CreateAPIKey(r.Context(), key); err != nil {
			response.FromError(w, apperr.Transient(err, "creating api key"))
			return
		}
		response.Created(w, map[string]any{
			"id":         key.ID,
			"name":       key.Name,
			"key":        raw,
			"key_prefix": key.KeyPrefix,
			"scopes":     key.Scopes,
		})
	}
}

// NewListKeysHandler serves GET /api/v1/admin/keys.
func NewListKeysHandler(st KeyAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		keys, err := st.ListAPIKeys(r.Context(), tenantID)
		if err != nil {
			response.FromError(w, apperr.Transient(err, "listing api keys"))
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.Collection(w, keys, len(keys))
	}
}

// NewRevokeKeyHandler serves DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(st KeyAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		keyID, ok := uuidParam(w, r, "keyID")
		if !ok {
			return
		}
		if err := st.RevokeAPIKey(r.Context(), keyID, tenantID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.FromError(w, apperr.NotFound("api key", keyID))
				return
			}
			response.FromError(w, apperr.Transient(err, "revoking api key"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func generateKey() (string, error) {
	b := make([]byte, apiKeyRandLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(b), nil
}

// NewGetGatePolicyHandler serves GET /api/v1/admin/gate-policy. Tenants without
// their own thresholds see the configured defaults.
func NewGetGatePolicyHandler(st GatePolicyStore, defaults models.GatePolicy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		t, err := st.GetTenant(r.Context(), tenantID)
		if err != nil {
			response.FromError(w, tenantError(err, tenantID))
			return
		}
		response.JSON(w, review.EffectivePolicy(t.Policy, defaults))
	}
}

// NewUpdateGatePolicyHandler serves PUT /api/v1/admin/gate-policy.
func NewUpdateGatePolicyHandler(st GatePolicyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		var req struct {
			AutoActivateThreshold float64 `json:"auto_activate_threshold" validate:"gt=0,lte=1"`
			BlockingThreshold     float64 `json:"blocking_threshold"      validate:"gte=0,lte=1,ltefield=AutoActivateThreshold"`
			SubjectiveBlocking    bool    `json:"subjective_blocking"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		policy := models.GatePolicy{
			AutoActivateThreshold: req.AutoActivateThreshold,
			BlockingThreshold:     req.BlockingThreshold,
			SubjectiveBlocking:    req.SubjectiveBlocking,
		}
		if err := st.UpdateGatePolicy(r.Context(), tenantID, policy); err != nil {
			response.FromError(w, tenantError(err, tenantID))
			return
		}
		response.JSON(w, policy)
	}
}

func tenantError(err error, tenantID uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("tenant", tenantID)
	}
	return apperr.Transient(err, "tenant %s", tenantID)
}
