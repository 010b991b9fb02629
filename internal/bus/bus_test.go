package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueuesMapping(t *testing.T) {
	assert.Equal(t, "email.queue", Queues["email"])
	assert.Equal(t, "push.queue", Queues["push"])
	assert.Equal(t, "failed.queue", Queues["failed"])
}

func TestBackoffPollGrowsAndCaps(t *testing.T) {
	d := minPollBackoff
	for i := 0; i < 20; i++ {
		d = backoffPoll(d)
	}
	assert.Equal(t, maxPollBackoff, d)
}

func TestBackoffPollNeverBelowMin(t *testing.T) {
	assert.Equal(t, minPollBackoff, backoffPoll(0))
}

func TestBackoffPollMonotonic(t *testing.T) {
	d := minPollBackoff
	next := backoffPoll(d)
	assert.GreaterOrEqual(t, next, d)
	assert.LessOrEqual(t, next, maxPollBackoff+time.Millisecond)
}
