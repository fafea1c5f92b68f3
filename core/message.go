package core

import (
	"fmt"
	"time"
)

// MessageType categorizes the intent of a Message.
type MessageType string

const (
	// MessageTypeCommand instructs the receiver to perform an action.
	MessageTypeCommand MessageType = "command"
	// MessageTypeQuery requests information from the receiver.
	MessageTypeQuery MessageType = "query"
	// MessageTypeNotification announces a fact with no reply expected.
	MessageTypeNotification MessageType = "notification"
	// MessageTypeResponse carries the result of an earlier command or query.
	MessageTypeResponse MessageType = "response"
	// MessageTypeError reports a failure condition to the receiver.
	MessageTypeError MessageType = "error"
)

// Message is the unit of communication between agents. After construction it
// should be treated as immutable; ownership transfers to the receiving agent's
// queue on send. It captures:
//   - Correlation (ID, Sender)
//   - Intent (Type, Content — the command or topic name)
//   - An arbitrary key/value payload (Data)
//   - High precision UTC timestamp
//
// Data may be nil for messages without payload. Handlers should access payload
// fields via the typed accessors (Field, StringField, IntField) or validate up
// front with RequireFields so absent keys surface as a *MissingFieldError
// instead of a nil-map fault deep inside handler code.
type Message struct {
	ID        string         `json:"id"`
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	Sender    string         `json:"sender,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage creates a message of the given type and content with no payload.
// Prefer the helper constructors for common semantic categories.
func NewMessage(msgType MessageType, content string) Message {
	return Message{
		ID:        NewID(),
		Type:      msgType,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewCommand constructs a command message instructing the receiver to run the
// named command with the given payload.
func NewCommand(sender, command string, data map[string]any) Message {
	m := NewMessage(MessageTypeCommand, command)
	m.Sender = sender
	m.Data = data
	return m
}

// NewQuery constructs a query message requesting information from the receiver.
func NewQuery(sender, query string, data map[string]any) Message {
	m := NewMessage(MessageTypeQuery, query)
	m.Sender = sender
	m.Data = data
	return m
}

// NewNotification constructs a notification published under the given topic.
func NewNotification(sender, topic string, data map[string]any) Message {
	m := NewMessage(MessageTypeNotification, topic)
	m.Sender = sender
	m.Data = data
	return m
}

// NewResponse constructs a response message carrying the outcome of an earlier
// command or query.
func NewResponse(sender, content string, data map[string]any) Message {
	m := NewMessage(MessageTypeResponse, content)
	m.Sender = sender
	m.Data = data
	return m
}

// NewErrorMessage constructs an error message. If err is non-nil its text is
// stored under the "error" payload key.
func NewErrorMessage(sender, content string, err error) Message {
	m := NewMessage(MessageTypeError, content)
	m.Sender = sender
	if err != nil {
		m.Data = map[string]any{"error": err.Error()}
	}
	return m
}

// Clone returns a copy of the message with its own payload map so the caller
// can mutate the copy's Data without affecting the original. Payload values
// are copied by reference.
func (m Message) Clone() Message {
	cp := m
	if m.Data != nil {
		cp.Data = make(map[string]any, len(m.Data))
		for k, v := range m.Data {
			cp.Data[k] = v
		}
	}
	return cp
}

// MissingFieldError reports a required payload field absent from a message.
type MissingFieldError struct {
	Field string
}

// Error implements the error interface.
func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("message missing required field %q", e.Field)
}

// Field returns the payload value stored under key. An absent key (or nil
// payload map) yields a *MissingFieldError.
func (m Message) Field(key string) (any, error) {
	if m.Data == nil {
		return nil, &MissingFieldError{Field: key}
	}
	v, ok := m.Data[key]
	if !ok {
		return nil, &MissingFieldError{Field: key}
	}
	return v, nil
}

// StringField returns the payload value under key as a string. Absent keys
// yield a *MissingFieldError; present values of another type yield a plain
// type error.
func (m Message) StringField(key string) (string, error) {
	v, err := m.Field(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("message field %q: expected string, got %T", key, v)
	}
	return s, nil
}

// IntField returns the payload value under key as an int. Numeric JSON decodes
// to float64, so float64 and int64 values are converted.
func (m Message) IntField(key string) (int, error) {
	v, err := m.Field(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("message field %q: expected number, got %T", key, v)
	}
}

// RequireFields validates that every named key is present in the payload,
// returning a *MissingFieldError for the first absent one. Intended for use at
// the top of message handlers.
func (m Message) RequireFields(keys ...string) error {
	for _, key := range keys {
		if _, err := m.Field(key); err != nil {
			return err
		}
	}
	return nil
}
