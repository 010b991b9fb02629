// Package testutil provides hand-written fakes for the external
// collaborators this repository treats as interfaces only (StatusStore,
// MessageBus), used across package-level unit tests in place of a running
// Redis/RabbitMQ backend.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/notifyhub/notifyhub/internal/notification"
)

// FakeStatusStore is an in-memory statusstore.Store.
type FakeStatusStore struct {
	mu      sync.Mutex
	records map[string]notification.StatusRecord
}

// NewFakeStatusStore returns an empty FakeStatusStore.
func NewFakeStatusStore() *FakeStatusStore {
	return &FakeStatusStore{records: make(map[string]notification.StatusRecord)}
}

func (f *FakeStatusStore) Get(_ context.Context, key string) (*notification.StatusRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (f *FakeStatusStore) Put(_ context.Context, key string, record notification.StatusRecord, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[key] = record
	return nil
}

func (f *FakeStatusStore) PutIfAbsent(_ context.Context, key string, record notification.StatusRecord, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.records[key]; exists {
		return false, nil
	}
	f.records[key] = record
	return true, nil
}

func (f *FakeStatusStore) Close() error { return nil }

// Snapshot returns a copy of the current key/record map, for assertions.
func (f *FakeStatusStore) Snapshot() map[string]notification.StatusRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]notification.StatusRecord, len(f.records))
	for k, v := range f.records {
		out[k] = v
	}
	return out
}

// PublishedMessage captures one call into FakeBus.Publish.
type PublishedMessage struct {
	RoutingKey string
	Body       []byte
	Priority   int
}

// FakeBus is an in-memory bus.Publisher recording every publish.
type FakeBus struct {
	mu         sync.Mutex
	published  []PublishedMessage
	failNext   bool
}

func NewFakeBus() *FakeBus { return &FakeBus{} }

func (f *FakeBus) Publish(_ context.Context, routingKey string, body []byte, priority int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errPublishFailed
	}
	f.published = append(f.published, PublishedMessage{RoutingKey: routingKey, Body: body, Priority: priority})
	return nil
}

// FailNextPublish makes the next call to Publish return an error, to
// exercise the gateway's infrastructure-failure path.
func (f *FakeBus) FailNextPublish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = true
}

func (f *FakeBus) Messages() []PublishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PublishedMessage, len(f.published))
	copy(out, f.published)
	return out
}

type publishError struct{ msg string }

func (e *publishError) Error() string { return e.msg }

var errPublishFailed = &publishError{msg: "fake bus: publish failed"}
