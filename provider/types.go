package provider

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Request represents a provider-agnostic LLM request.
type Request struct {
	Model         string
	Messages      []Message
	Tools         []ToolDef
	Temperature   *float64
	MaxTokens     *int
	TopP          *float64
	TopK          *int
	Seed          *int
	StopSequences []string

	// MaxAttempts bounds how many times the transport tries to deliver
	// the request. Values below one mean a single attempt.
	MaxAttempts int
}

// Message represents a single message in the conversation.
type Message struct {
	ID             string
	Role           Role
	Author         string
	Content        string
	FunctionCalls  []FunctionCall
	FunctionResult *FunctionResult
	Pin            PinLocation
	CreatedAt      time.Time
	Images         []Image

	// Deleted marks a message as soft-deleted. Deleted messages stay in
	// the conversation but are never sent to the model.
	Deleted bool
}

// Role represents the message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// PinLocation constrains where a message stays when the conversation is
// windowed before sending.
type PinLocation int

const (
	// PinNone messages may be evicted by windowing.
	PinNone PinLocation = iota
	// PinBegin messages are moved to the head and never evicted.
	PinBegin
	// PinEnd messages are moved to the tail and never evicted.
	PinEnd
	// PinAutomatic messages keep their position and are never evicted.
	PinAutomatic
)

func (p PinLocation) String() string {
	switch p {
	case PinBegin:
		return "begin"
	case PinEnd:
		return "end"
	case PinAutomatic:
		return "automatic"
	default:
		return "none"
	}
}

// FunctionCall represents a function invocation requested by the model.
type FunctionCall struct {
	ID        string
	Name      string
	Arguments string // JSON string
}

// FunctionResult carries the value of an executed function back to the model.
type FunctionResult struct {
	ID    string
	Name  string
	Value string
}

// Image references an image attached to a message.
type Image struct {
	URL      string
	MIMEType string
}

// ContentLength returns the size of the message's text payload: its free
// text plus any function result value.
func (m Message) ContentLength() int {
	n := len(m.Content)
	if m.FunctionResult != nil {
		n += len(m.FunctionResult.Value)
	}
	return n
}

// NewMessage creates a message with a fresh ID and creation time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Response contains the LLM's response.
type Response struct {
	Content       string
	FunctionCalls []FunctionCall
	FinishReason  FinishReason
	Usage         Usage
}

// FinishReason indicates why the model stopped generating.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonLength    FinishReason = "length"
)

// ToolDef defines a function the model can call.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
	Strict      bool
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add returns the sum of two usage records.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// Capabilities describes how a provider's dialect differs from the
// common message model.
type Capabilities struct {
	// SystemRole is false when the provider has no system role; system
	// messages are then sent with the user role.
	SystemRole bool

	// MergeConsecutive requests that adjacent messages sharing role and
	// author be merged before sending.
	MergeConsecutive bool

	// StrictSchemas enables strict function schemas for functions whose
	// parameters are all required.
	StrictSchemas bool
}
