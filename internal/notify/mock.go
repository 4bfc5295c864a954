package notify

import (
	"context"
	"sync"
)

// Message is one delivery recorded by the mock channel.
type Message struct {
	Recipient string
	Body      string
}

// MockChannel records deliveries instead of sending them. Used for local
// runs without Twilio credentials and for tests.
type MockChannel struct {
	mu   sync.Mutex
	sent []Message
}

func NewMockChannel() *MockChannel { return &MockChannel{} }

func (c *MockChannel) Send(_ context.Context, recipient, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Message{Recipient: recipient, Body: body})
	return nil
}

// Sent returns a copy of all recorded deliveries.
func (c *MockChannel) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.sent))
	copy(out, c.sent)
	return out
}
