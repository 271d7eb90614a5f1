package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"collabdraft-server/pkg/response"
	"collabdraft-server/pkg/token"
)

// TokenHandler issues participant tokens for development setups. Production
// deployments mint tokens in the identity service upstream; main only mounts
// this outside production.
type TokenHandler struct {
	jwtSecret  string
	expiration time.Duration
	validate   *validator.Validate
}

func NewTokenHandler(jwtSecret string, expiration time.Duration) *TokenHandler {
	return &TokenHandler{
		jwtSecret:  jwtSecret,
		expiration: expiration,
		validate:   validator.New(),
	}
}

type issueTokenRequest struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name" validate:"required"`
}

func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	if req.ParticipantID == "" {
		req.ParticipantID = uuid.New().String()
	}

	signed, err := token.Generate(req.ParticipantID, req.Name, h.expiration, h.jwtSecret)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, map[string]string{
		"participant_id": req.ParticipantID,
		"token":          signed,
	})
}
