package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"collabdraft-server/internal/domain"
	"collabdraft-server/internal/middleware"
	"collabdraft-server/internal/service"
	"collabdraft-server/pkg/response"
)

type CommentHandler struct {
	sessions *service.SessionService
	comments *service.CommentService
	validate *validator.Validate
}

func NewCommentHandler(sessions *service.SessionService, comments *service.CommentService) *CommentHandler {
	return &CommentHandler{
		sessions: sessions,
		comments: comments,
		validate: validator.New(),
	}
}

func (h *CommentHandler) author(r *http.Request) (*domain.Participant, string, error) {
	participantID := middleware.GetParticipantID(r)
	documentID := mux.Vars(r)["id"]

	snapshot, err := h.sessions.Snapshot(documentID, participantID)
	if err != nil {
		return nil, documentID, err
	}
	for _, p := range snapshot.Participants {
		if p.ID == participantID {
			return p, documentID, nil
		}
	}
	return nil, documentID, service.ErrParticipantStateMissing
}

func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	if middleware.GetParticipantID(r) == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	documentID := mux.Vars(r)["id"]
	comments, err := h.comments.List(r.Context(), documentID)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, comments)
}

func (h *CommentHandler) Add(w http.ResponseWriter, r *http.Request) {
	author, documentID, err := h.author(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var req domain.AddCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	comment, err := h.comments.Add(r.Context(), documentID, author, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, comment)
}

func (h *CommentHandler) Reply(w http.ResponseWriter, r *http.Request) {
	author, documentID, err := h.author(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var req domain.ReplyCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	comment, err := h.comments.Reply(r.Context(), documentID, mux.Vars(r)["commentId"], author, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, comment)
}

func (h *CommentHandler) React(w http.ResponseWriter, r *http.Request) {
	participantID := middleware.GetParticipantID(r)
	if participantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.ReactCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	vars := mux.Vars(r)
	comment, err := h.comments.React(r.Context(), vars["id"], vars["commentId"], participantID, req.Symbol)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, comment)
}

func (h *CommentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if middleware.GetParticipantID(r) == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	vars := mux.Vars(r)
	comment, err := h.comments.Resolve(r.Context(), vars["id"], vars["commentId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, comment)
}
