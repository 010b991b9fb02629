package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateValue(t *testing.T) {
	assert.Equal(t, 0.0, stateValue("closed"))
	assert.Equal(t, 1.0, stateValue("open"))
	assert.Equal(t, 2.0, stateValue("half_open"))
	assert.Equal(t, 0.0, stateValue("unknown"))
}

func TestHandlerServesExposition(t *testing.T) {
	SetCircuitBreakerState("smtp", "open")
	SetQueueDepth("email.queue", 3)
	RecordDeliveryAttempt("email", "delivered")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "notifyhub_circuit_breaker_state")
	assert.Contains(t, body, "notifyhub_queue_depth")
	assert.Contains(t, body, "notifyhub_delivery_attempts_total")
}
