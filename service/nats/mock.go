package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu            sync.RWMutex
	pendingEvents []*PendingEvent
	accountEvents []*AccountEvent
	publishError  error
	closed        bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishPending records the event and returns any configured error.
func (m *MockPublisher) PublishPending(ctx context.Context, event *PendingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.pendingEvents = append(m.pendingEvents, event)
	return nil
}

// PublishAccount records the event and returns any configured error.
func (m *MockPublisher) PublishAccount(ctx context.Context, event *AccountEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.accountEvents = append(m.accountEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// PendingEvents returns a copy of all published pending events.
func (m *MockPublisher) PendingEvents() []*PendingEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*PendingEvent, len(m.pendingEvents))
	copy(events, m.pendingEvents)
	return events
}

// PendingEventsOfKind filters published pending events by kind.
func (m *MockPublisher) PendingEventsOfKind(kind PendingEventKind) []*PendingEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []*PendingEvent
	for _, e := range m.pendingEvents {
		if e.Kind == kind {
			events = append(events, e)
		}
	}
	return events
}

// AccountEvents returns a copy of all published account events.
func (m *MockPublisher) AccountEvents() []*AccountEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*AccountEvent, len(m.accountEvents))
	copy(events, m.accountEvents)
	return events
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingEvents = nil
	m.accountEvents = nil
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
