package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxochat/chat-core/internal/apperror"
	"github.com/foxochat/chat-core/internal/auth"
	"github.com/foxochat/chat-core/internal/model"
	"github.com/foxochat/chat-core/internal/permission"
	"github.com/foxochat/chat-core/internal/service"
)

// ChannelHandler exposes channel and membership operations. Every route is
// mounted behind RequireAuth with the verified-email gate.
type ChannelHandler struct {
	channels *service.ChannelService
	logger   *slog.Logger
}

func NewChannelHandler(channels *service.ChannelService, logger *slog.Logger) *ChannelHandler {
	return &ChannelHandler{channels: channels, logger: logger}
}

func (h *ChannelHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, h.logger, err)
}

// caller returns the authenticated user, writing 401 when there is none.
func (h *ChannelHandler) caller(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.fail(w, r, apperror.Unauthorized())
	}
	return user, ok
}

type channelRequest struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"displayName"`
	Type        model.ChannelType `json:"type"`
}

// HandleCreate handles POST /channels.
func (h *ChannelHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req channelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ch, err := h.channels.Create(r.Context(), user, service.ChannelInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// HandleGet handles GET /channels/{name}.
func (h *ChannelHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ch, err := h.channels.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// HandleEdit handles PATCH /channels/{name}.
func (h *ChannelHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req channelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ch, err := h.channels.Edit(r.Context(), user, chi.URLParam(r, "name"), service.ChannelInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// HandleDelete handles DELETE /channels/{name}.
func (h *ChannelHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.channels.Delete(r.Context(), user, chi.URLParam(r, "name")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleJoin handles PUT /channels/{name}/members/@me.
func (h *ChannelHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	m, err := h.channels.Join(r.Context(), user, chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// HandleLeave handles DELETE /channels/{name}/members/@me.
func (h *ChannelHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.channels.Leave(r.Context(), user, chi.URLParam(r, "name")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMembers handles GET /channels/{name}/members.
func (h *ChannelHandler) HandleMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.channels.Members(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// HandleMember handles GET /channels/{name}/members/{userID}.
func (h *ChannelHandler) HandleMember(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.channels.Member(r.Context(), chi.URLParam(r, "name"), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type permissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// HandleSetPermissions handles PUT /channels/{name}/members/{userID}/permissions.
// The body lists permission names; the member's mask becomes exactly that set.
func (h *ChannelHandler) HandleSetPermissions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	targetID, err := parseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req permissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	var perms permission.Set
	for _, name := range req.Permissions {
		p, err := permission.Parse(name)
		if err != nil {
			h.fail(w, r, apperror.ValidationFailed("permissions", err.Error()))
			return
		}
		perms.Add(p)
	}

	m, err := h.channels.SetMemberPermissions(r.Context(), user, chi.URLParam(r, "name"), targetID, perms)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("userID", "userID must be a positive integer")
	}
	return id, nil
}
