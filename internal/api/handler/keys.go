package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/casefile/internal/api/middleware"
	"github.com/kiranshivaraju/casefile/internal/api/response"
	"github.com/kiranshivaraju/casefile/internal/store"
	"github.com/kiranshivaraju/casefile/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix marks raw API keys issued by this service.
const KeyPrefix = "cf_"

// KeyCreator is the part of store.Store the key handler writes through.
type KeyCreator interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// GenerateAPIKey returns a new raw key, its lookup prefix and its bcrypt hash.
func GenerateAPIKey() (raw, prefix, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	raw = KeyPrefix + hex.EncodeToString(buf)
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("hashing api key: %w", err)
	}
	return raw, raw[:mw.KeyPrefixLen], string(h), nil
}

// NewAPIKey builds an APIKey record for name and scopes and returns it with
// the raw key, which is not stored anywhere.
func NewAPIKey(name string, scopes []string) (*models.APIKey, string, error) {
	raw, prefix, hash, err := GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, raw, nil
}

type createKeyResponse struct {
	*models.APIKey
	Key string `json:"key"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The raw key appears in this response only.
func NewCreateKeyHandler(s KeyCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = []string{models.ScopeReports}
		}
		for _, sc := range req.Scopes {
			if sc != models.ScopeAdmin && sc != models.ScopeReports {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown scope", map[string]any{
					"scope": sc,
				})
				return
			}
		}

		key, raw, err := NewAPIKey(req.Name, req.Scopes)
		if err != nil {
			slog.Error("generating api key", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create API key", nil)
			return
		}
		if err := s.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "API key collision, retry", nil)
				return
			}
			slog.Error("storing api key", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create API key", nil)
			return
		}

		if id, ok := mw.GetKeyID(r); ok {
			slog.Info("api key created", "key_id", key.ID, "created_by", id)
		}
		response.Created(w, createKeyResponse{APIKey: key, Key: raw})
	}
}
