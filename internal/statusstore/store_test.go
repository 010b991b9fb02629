package statusstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notifyhub/notifyhub/internal/notification"
)

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "email:idempotency:r1", IdempotencyKey(notification.ChannelEmail, "r1"))
	assert.Equal(t, "push:idempotency:r2", IdempotencyKey(notification.ChannelPush, "r2"))
}

func TestGatewayAdmissionKey(t *testing.T) {
	assert.Equal(t, "idemp:r1", GatewayAdmissionKey("r1"))
}

func TestCallbackStatusKey(t *testing.T) {
	assert.Equal(t, "status:n7", CallbackStatusKey("n7"))
}

func TestNewRejectsInvalidURL(t *testing.T) {
	_, err := New("not-a-redis-url://###")
	assert.Error(t, err)
}
