package llm

import "github.com/i2y/marengo/provider"

// Message is an alias for provider.Message for convenience.
type Message = provider.Message

// Role is an alias for provider.Role for convenience.
type Role = provider.Role

// Role constants.
const (
	RoleSystem    = provider.RoleSystem
	RoleUser      = provider.RoleUser
	RoleAssistant = provider.RoleAssistant
	RoleFunction  = provider.RoleFunction
)

// FunctionCall is an alias for provider.FunctionCall.
type FunctionCall = provider.FunctionCall

// FunctionResult is an alias for provider.FunctionResult.
type FunctionResult = provider.FunctionResult

// PinLocation is an alias for provider.PinLocation.
type PinLocation = provider.PinLocation

// Pin locations.
const (
	PinNone      = provider.PinNone
	PinBegin     = provider.PinBegin
	PinEnd       = provider.PinEnd
	PinAutomatic = provider.PinAutomatic
)

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return provider.NewMessage(RoleSystem, content)
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return provider.NewMessage(RoleUser, content)
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return provider.NewMessage(RoleAssistant, content)
}

// FunctionCallMessage creates an assistant message carrying function calls.
func FunctionCallMessage(calls ...FunctionCall) Message {
	msg := provider.NewMessage(RoleAssistant, "")
	msg.FunctionCalls = calls
	return msg
}

// FunctionResultMessage creates a function result message answering the
// call with the given ID.
func FunctionResultMessage(callID, name, value string) Message {
	msg := provider.NewMessage(RoleFunction, "")
	msg.FunctionResult = &FunctionResult{ID: callID, Name: name, Value: value}
	return msg
}

// Pinned returns a copy of msg pinned at loc.
func Pinned(msg Message, loc PinLocation) Message {
	msg.Pin = loc
	return msg
}
