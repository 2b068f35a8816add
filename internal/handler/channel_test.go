package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxochat/chat-core/internal/auth"
	"github.com/foxochat/chat-core/internal/model"
)

// Requests in these tests are rejected before the service is reached, so
// the handler runs without one.
func newBareChannelRouter() http.Handler {
	h := NewChannelHandler(nil, testLogger())
	r := chi.NewRouter()
	r.Get("/channels/{name}/members/{userID}", h.HandleMember)
	r.Put("/channels/{name}/members/{userID}/permissions", h.HandleSetPermissions)
	r.Post("/channels", h.HandleCreate)
	return r
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestParseUserID(t *testing.T) {
	id, err := parseUserID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "abc", "1.5"} {
		_, err := parseUserID(bad)
		assert.Error(t, err, bad)
	}
}

func TestHandleMember_BadUserID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/channels/general/members/bob", nil)

	newBareChannelRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "userID", decodeError(t, rec).Field)
}

func TestHandleSetPermissions_UnknownName(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/channels/general/members/2/permissions",
		strings.NewReader(`{"permissions":["SEND_MESSAGES","FLY"]}`))
	req = req.WithContext(auth.WithUser(req.Context(), &model.User{ID: 1, Username: "alice"}, "tok"))

	newBareChannelRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Error)
	assert.Equal(t, "permissions", body.Field)
}

func TestHandleCreate_WithoutUser(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/channels", strings.NewReader(`{"name":"general"}`))

	newBareChannelRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Error)
}
