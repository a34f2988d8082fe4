// ABOUTME: Tests for router assembly: health checks, CORS, auth and the socket mount
// ABOUTME: Uses a real JWT verifier to exercise participant and support tokens

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hostel-messaging/internal/auth"
	"github.com/2389/hostel-messaging/internal/messaging"
	"github.com/2389/hostel-messaging/internal/store"
)

const testSecret = "test-secret-key-for-jwt-signing!"

func newVerifier(t *testing.T) *auth.JWTVerifier {
	t.Helper()
	v, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	return v
}

func bearer(t *testing.T, v *auth.JWTVerifier, subject, role string) string {
	t.Helper()
	token, err := v.Generate(subject, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = a.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	a.store.PingErr = errors.New("database is locked")
	rec = a.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "locked")
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, BasePath+"/messages", nil)
	req.Header.Set("Origin", "https://hostel.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", IdempotencyKeyHeader)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuth_RequiresToken(t *testing.T) {
	v := newVerifier(t)
	a := newTestAPIWithVerifier(t, v)

	rec := a.do(t, http.MethodGet, BasePath+"/conversations?all=true", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Error)

	rec = a.do(t, http.MethodGet, BasePath+"/conversations?all=true", nil, "Authorization", "Bearer garbage")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health stays open
	rec = a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_ParticipantScope(t *testing.T) {
	v := newVerifier(t)
	a := newTestAPIWithVerifier(t, v)
	resident := bearer(t, v, "user-42", auth.RoleParticipant)
	other := bearer(t, v, "user-7", auth.RoleParticipant)
	support := bearer(t, v, "warden-1", auth.RoleSupport)

	// Participant id defaults to the token subject
	rec := a.do(t, http.MethodPost, BasePath+"/conversation/start", nil, "Authorization", resident)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, BasePath+"/conversations", map[string]string{"participant_id": "user-7"}, "Authorization", resident)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, BasePath+"/conversations", map[string]string{"participant_id": "user-42"}, "Authorization", resident)
	require.Equal(t, http.StatusOK, rec.Code)
	var start StartConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	// Support-only listings
	rec = a.do(t, http.MethodGet, BasePath+"/conversations?all=true", nil, "Authorization", resident)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(t, http.MethodGet, BasePath+"/conversations?all=true", nil, "Authorization", support)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodPut, BasePath+"/conversations/"+start.ConversationID+"/assignee", map[string]string{"assignee_id": "x"}, "Authorization", resident)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Another participant cannot read or post into the conversation
	rec = a.do(t, http.MethodGet, BasePath+"/conversations/"+start.ConversationID+"/messages", nil, "Authorization", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = a.do(t, http.MethodPost, BasePath+"/messages", map[string]string{
		"conversation_id": start.ConversationID,
		"sender_id":       "user-7",
		"sender_role":     "participant",
		"body":            "hi",
	}, "Authorization", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Participants cannot impersonate support
	rec = a.do(t, http.MethodPost, BasePath+"/messages", map[string]string{
		"conversation_id": start.ConversationID,
		"sender_id":       "user-42",
		"sender_role":     "support",
		"body":            "hi",
	}, "Authorization", resident)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Owner and support both can
	rec = a.do(t, http.MethodPost, BasePath+"/messages", map[string]string{
		"conversation_id": start.ConversationID,
		"sender_id":       "user-42",
		"sender_role":     "participant",
		"body":            "Leaky tap",
	}, "Authorization", resident)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = a.do(t, http.MethodPost, BasePath+"/messages", map[string]string{
		"conversation_id": start.ConversationID,
		"sender_id":       "warden-1",
		"sender_role":     "support",
		"body":            "On it",
	}, "Authorization", support)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAuth_StatusUpdatesScopedToOwner(t *testing.T) {
	v := newVerifier(t)
	a := newTestAPIWithVerifier(t, v)
	owner := bearer(t, v, "user-7", auth.RoleParticipant)
	intruder := bearer(t, v, "user-42", auth.RoleParticipant)
	support := bearer(t, v, "warden-1", auth.RoleSupport)

	rec := a.do(t, http.MethodPost, BasePath+"/conversations", map[string]string{"participant_id": "user-7"}, "Authorization", owner)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var start StartConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	rec = a.do(t, http.MethodPost, BasePath+"/messages", map[string]string{
		"conversation_id": start.ConversationID,
		"sender_id":       "warden-1",
		"sender_role":     "support",
		"body":            "Key card reset",
	}, "Authorization", support)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg messaging.MessagePayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))

	for _, path := range []string{
		BasePath + "/messages/" + msg.ID + "/delivered",
		BasePath + "/messages/" + msg.ID + "/read",
		BasePath + "/message/read/" + msg.ID,
	} {
		rec = a.do(t, http.MethodPatch, path, nil, "Authorization", intruder)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "message not found", decodeError(t, rec).Message, path)
	}

	stored, err := a.store.GetMessage(t.Context(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSent, stored.Status)

	// Unknown ids stay 404 for participants
	rec = a.do(t, http.MethodPatch, BasePath+"/messages/missing/read", nil, "Authorization", intruder)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPatch, BasePath+"/messages/"+msg.ID+"/read", nil, "Authorization", owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "read", status.Status)
}

func TestAuth_TokenQueryParam(t *testing.T) {
	v := newVerifier(t)
	a := newTestAPIWithVerifier(t, v)
	token, err := v.Generate("warden-1", auth.RoleSupport, time.Hour)
	require.NoError(t, err)

	rec := a.do(t, http.MethodGet, BasePath+"/conversations?all=true&token="+token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSocketMount(t *testing.T) {
	var hit bool
	socket := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusTeapot)
	})

	router := NewRouter(RouterConfig{Handler: NewHandler(nil, nil), Socket: socket})

	req := httptest.NewRequest(http.MethodGet, SocketPath, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.True(t, hit)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
