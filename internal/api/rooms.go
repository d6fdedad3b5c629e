package api

import (
	"errors"
	"net/http"

	"github.com/a-essam23/go-converse/internal/server/middleware"
	"github.com/a-essam23/go-converse/internal/store"
)

type createRoomRequest struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

type updateRoomRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	reqMeta, err := caller(r)
	if err != nil {
		h.unauthorized(w)
		return
	}
	var req createRoomRequest
	if !h.decode(w, r, &req) {
		return
	}
	room, err := h.store.CreateRoom(r.Context(), reqMeta.UserID, req.Name, req.Description)
	switch {
	case errors.Is(err, store.ErrInvalidArgument):
		middleware.WriteError(w, http.StatusBadRequest, "name is required")
		return
	case err != nil:
		h.internalError(w, r, err, "Failed to create room")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, room)
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.ListRooms(r.Context())
	if err != nil {
		h.internalError(w, r, err, "Failed to fetch rooms")
		return
	}
	if rooms == nil {
		rooms = []store.Room{}
	}
	middleware.WriteJSON(w, http.StatusOK, rooms)
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.store.GetRoom(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Room not found")
		return
	case err != nil:
		h.internalError(w, r, err, "Failed to fetch room")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, room)
}

func (h *Handler) updateRoom(w http.ResponseWriter, r *http.Request) {
	reqMeta, err := caller(r)
	if err != nil {
		h.unauthorized(w)
		return
	}
	var req updateRoomRequest
	if !h.decode(w, r, &req) {
		return
	}
	room, err := h.store.UpdateRoom(r.Context(), r.PathValue("id"), reqMeta.UserID, store.RoomUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Room not found")
		return
	case errors.Is(err, store.ErrForbidden):
		middleware.WriteError(w, http.StatusForbidden, "Not authorized to update this room")
		return
	case errors.Is(err, store.ErrInvalidArgument):
		middleware.WriteError(w, http.StatusBadRequest, "name cannot be empty")
		return
	case err != nil:
		h.internalError(w, r, err, "Failed to update room")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, room)
}

func (h *Handler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	reqMeta, err := caller(r)
	if err != nil {
		h.unauthorized(w)
		return
	}
	err = h.store.DeleteRoom(r.Context(), r.PathValue("id"), reqMeta.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Room not found")
		return
	case errors.Is(err, store.ErrForbidden):
		middleware.WriteError(w, http.StatusForbidden, "Not authorized to delete this room")
		return
	case err != nil:
		h.internalError(w, r, err, "Failed to delete room")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) joinRoom(w http.ResponseWriter, r *http.Request) {
	reqMeta, err := caller(r)
	if err != nil {
		h.unauthorized(w)
		return
	}
	err = h.store.JoinRoom(r.Context(), r.PathValue("id"), reqMeta.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Room not found")
		return
	case errors.Is(err, store.ErrAlreadyExists):
		middleware.WriteError(w, http.StatusBadRequest, "Already a member of this room")
		return
	case err != nil:
		h.internalError(w, r, err, "Failed to join room")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Successfully joined room"})
}

func (h *Handler) leaveRoom(w http.ResponseWriter, r *http.Request) {
	reqMeta, err := caller(r)
	if err != nil {
		h.unauthorized(w)
		return
	}
	err = h.store.LeaveRoom(r.Context(), r.PathValue("id"), reqMeta.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusBadRequest, "Not a member of this room")
		return
	case err != nil:
		h.internalError(w, r, err, "Failed to leave room")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Successfully left room"})
}
