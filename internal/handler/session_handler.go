package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"collabdraft-server/internal/domain"
	"collabdraft-server/internal/middleware"
	"collabdraft-server/internal/service"
	"collabdraft-server/pkg/response"
)

type SessionHandler struct {
	sessions *service.SessionService
	validate *validator.Validate
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		validate: validator.New(),
	}
}

func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	participantID := middleware.GetParticipantID(r)
	if participantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		req.Name = middleware.GetParticipantName(r)
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	snapshot, err := h.sessions.Join(participantID, &req)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, snapshot)
}

func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	participantID := middleware.GetParticipantID(r)
	if participantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	documentID := mux.Vars(r)["id"]
	if err := h.sessions.Leave(r.Context(), documentID, participantID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"document_id": documentID})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	participantID := middleware.GetParticipantID(r)
	if participantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	documentID := mux.Vars(r)["id"]
	snapshot, err := h.sessions.Snapshot(documentID, participantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, snapshot)
}

type submitChangeBody struct {
	domain.SubmitChangeRequest
	Resolution domain.ResolutionStrategy `json:"resolution,omitempty" validate:"omitempty,oneof=merge override manual"`
}

func (h *SessionHandler) SubmitChange(w http.ResponseWriter, r *http.Request) {
	participantID := middleware.GetParticipantID(r)
	if participantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	documentID := mux.Vars(r)["id"]

	var body submitChangeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	change, pending, err := h.sessions.SubmitChange(documentID, participantID, &body.SubmitChangeRequest, body.Resolution)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if pending != nil {
		response.Accepted(w, pending)
		return
	}

	response.Success(w, change)
}

func (h *SessionHandler) UpdateCursor(w http.ResponseWriter, r *http.Request) {
	participantID := middleware.GetParticipantID(r)
	if participantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	documentID := mux.Vars(r)["id"]

	var req domain.CursorUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.sessions.UpdateCursor(documentID, participantID, req.Position); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, nil)
}

func (h *SessionHandler) UpdateSelection(w http.ResponseWriter, r *http.Request) {
	participantID := middleware.GetParticipantID(r)
	if participantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	documentID := mux.Vars(r)["id"]

	var req domain.SelectionUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	sel := &domain.Selection{Start: req.Start, End: req.End}
	if err := h.sessions.UpdateSelection(documentID, participantID, sel); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, nil)
}

func (h *SessionHandler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	participantID := middleware.GetParticipantID(r)
	if participantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	documentID := mux.Vars(r)["id"]

	var req domain.AcquireLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	lock, err := h.sessions.AcquireLock(documentID, participantID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if lock == nil {
		// Contention is an expected outcome, not a failure.
		response.Conflict(w, "range is locked by another participant")
		return
	}

	response.Created(w, lock)
}

func (h *SessionHandler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	participantID := middleware.GetParticipantID(r)
	if participantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	vars := mux.Vars(r)
	if err := h.sessions.ReleaseLock(vars["id"], vars["lockId"]); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, nil)
}

func (h *SessionHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	participantID := middleware.GetParticipantID(r)
	if participantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	pendingID := mux.Vars(r)["pendingId"]

	var req domain.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	res, err := h.sessions.ResolvePending(pendingID, req.Strategy, participantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, res)
}

func writeServiceError(w http.ResponseWriter, err error) {
	var lockErr *service.LockHeldError
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, service.ErrPendingNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, service.ErrCommentNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, service.ErrParticipantStateMissing):
		response.NotFound(w, err.Error())
	case errors.Is(err, service.ErrPermissionDenied):
		response.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrSessionClosing):
		response.Conflict(w, err.Error())
	case errors.As(err, &lockErr):
		response.Conflict(w, lockErr.Error())
	default:
		response.InternalError(w, err.Error())
	}
}
