package llm

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Conversation is an ordered message history owned by the caller.
// Complete and Stream only ever append to it. A Conversation must not be
// modified by anything else while a call using it is in flight.
type Conversation struct {
	ID        string
	CreatedAt time.Time
	Messages  []Message
}

// NewConversation creates a conversation seeded with a copy of msgs.
func NewConversation(msgs ...Message) *Conversation {
	return &Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		CreatedAt: time.Now(),
		Messages:  slices.Clone(msgs),
	}
}

// Append adds msgs to the end of the conversation.
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// Last returns the most recent message.
func (c *Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}
