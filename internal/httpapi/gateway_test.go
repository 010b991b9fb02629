package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/notifyhub/internal/notification"
	"github.com/notifyhub/notifyhub/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestGatewayRouter() (*gin.Engine, *testutil.FakeStatusStore, *testutil.FakeBus) {
	store := testutil.NewFakeStatusStore()
	pub := testutil.NewFakeBus()
	handlers := NewGatewayHandlers(store, pub, time.Hour, time.Hour)
	return NewGatewayRouter(handlers, "test-key"), store, pub
}

func doRequest(r http.Handler, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateNotificationRejectsMissingAPIKey(t *testing.T) {
	r, _, _ := newTestGatewayRouter()
	rec := doRequest(r, http.MethodPost, "/api/v1/notifications/", "", notification.NotificationRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateNotificationAcceptsAndPublishes(t *testing.T) {
	r, store, pub := newTestGatewayRouter()

	req := notification.NotificationRequest{
		NotificationType: notification.ChannelEmail,
		RequestID:        "r1",
		TemplateCode:     "welcome_v1",
		Variables:        map[string]interface{}{"name": "Ada"},
		Metadata:         map[string]interface{}{"email": "a@x"},
	}
	rec := doRequest(r, http.MethodPost, "/api/v1/notifications/", "test-key", req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, "accepted", env.Message)

	assert.Len(t, pub.Messages(), 1)
	assert.Equal(t, "email", pub.Messages()[0].RoutingKey)

	snap := store.Snapshot()
	assert.Contains(t, snap, "idemp:r1")
}

func TestCreateNotificationDuplicateShortCircuits(t *testing.T) {
	r, _, pub := newTestGatewayRouter()

	req := notification.NotificationRequest{
		NotificationType: notification.ChannelEmail,
		RequestID:        "r1",
		Metadata:         map[string]interface{}{"email": "a@x"},
	}
	first := doRequest(r, http.MethodPost, "/api/v1/notifications/", "test-key", req)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := doRequest(r, http.MethodPost, "/api/v1/notifications/", "test-key", req)
	require.Equal(t, http.StatusOK, second.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &env))
	assert.Equal(t, "duplicate_request", env.Message)
	assert.Len(t, pub.Messages(), 1, "only the first submission publishes")
}

func TestCreateNotificationRejectsUnknownChannel(t *testing.T) {
	r, _, _ := newTestGatewayRouter()
	req := notification.NotificationRequest{NotificationType: "sms", RequestID: "r1"}
	rec := doRequest(r, http.MethodPost, "/api/v1/notifications/", "test-key", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateNotificationPublishFailureMarksRecordFailed(t *testing.T) {
	r, store, pub := newTestGatewayRouter()
	pub.FailNextPublish()

	req := notification.NotificationRequest{
		NotificationType: notification.ChannelEmail,
		RequestID:        "r9",
		Metadata:         map[string]interface{}{"email": "a@x"},
	}
	rec := doRequest(r, http.MethodPost, "/api/v1/notifications/", "test-key", req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	record, ok := store.Snapshot()["idemp:r9"]
	require.True(t, ok)
	assert.Equal(t, notification.StatusFailed, record.Status)
}

func TestIngestStatusRejectsUnknownChannel(t *testing.T) {
	r, _, _ := newTestGatewayRouter()
	cb := notification.StatusCallback{NotificationID: "n7", Status: notification.StatusDelivered}
	rec := doRequest(r, http.MethodPost, "/api/v1/sms/status/", "test-key", cb)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestStatusWritesCallbackKey(t *testing.T) {
	r, store, _ := newTestGatewayRouter()
	cb := notification.StatusCallback{NotificationID: "n7", Status: notification.StatusDelivered}
	rec := doRequest(r, http.MethodPost, "/api/v1/email/status/", "test-key", cb)
	require.Equal(t, http.StatusOK, rec.Code)

	record, ok := store.Snapshot()["status:n7"]
	require.True(t, ok)
	assert.Equal(t, notification.StatusDelivered, record.Status)
}

func TestCreateUserPublishesFireAndForget(t *testing.T) {
	r, _, pub := newTestGatewayRouter()
	payload := notification.UserPayload{UserID: "u1", Email: "u@x"}
	rec := doRequest(r, http.MethodPost, "/api/v1/users/", "test-key", payload)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, pub.Messages(), 1)
	assert.Equal(t, "user.created", pub.Messages()[0].RoutingKey)
}

func TestHealthEndpointNeedsNoAuth(t *testing.T) {
	r, _, _ := newTestGatewayRouter()
	rec := doRequest(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
