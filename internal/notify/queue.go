// Package notify holds consume-once user-facing messages produced by cart
// mutations.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultCapacity = 50

// Message is an ephemeral success or error notice for the UI.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsError   bool      `json:"is_error"`
	CreatedAt time.Time `json:"created_at"`
}

// Queue is an ordered list of messages. Acknowledging removes a single message.
// When full, the oldest message is dropped to make room.
type Queue struct {
	mu       sync.Mutex
	capacity int
	messages []Message
	now      func() time.Time
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity, now: time.Now}
}

// Enqueue appends a message with a fresh time-ordered id.
func (q *Queue) Enqueue(text string, isError bool) Message {
	msg := Message{
		ID:      newID(),
		Text:    text,
		IsError: isError,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	msg.CreatedAt = q.now().UTC()
	if len(q.messages) >= q.capacity {
		q.messages = append(q.messages[:0], q.messages[len(q.messages)-q.capacity+1:]...)
	}
	q.messages = append(q.messages, msg)
	return msg
}

// Acknowledge removes the message with id. It reports whether it was queued.
func (q *Queue) Acknowledge(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, msg := range q.messages {
		if msg.ID == id {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns the queued messages oldest first.
func (q *Queue) Pending() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.messages))
	copy(out, q.messages)
	return out
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
