package ipc

import (
	"encoding/json"
	"fmt"
)

const (
	KeyRequire   = "watch:require"
	KeyImport    = "watch:import"
	KeyRestarted = "watch:restarted"
)

// Message is one decoded IPC frame. Values stay raw until a consumer asks
// for them so unknown keys pass through untouched.
type Message map[string]json.RawMessage

// Channel is a bidirectional message port.
type Channel interface {
	Send(Message) error
	// OnMessage registers a listener and returns a func that removes it.
	OnMessage(func(Message)) func()
}

// Strings decodes the value under key as a list of strings. Values that are
// not JSON arrays are reported as absent; arrays holding anything other than
// strings are an error.
func (m Message) Strings(key string) ([]string, bool, error) {
	raw, ok := m[key]
	if !ok {
		return nil, false, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, nil
	}
	values := make([]string, 0, len(items))
	for index, item := range items {
		var value string
		if err := json.Unmarshal(item, &value); err != nil {
			return nil, true, fmt.Errorf("decode %s[%d]: %w", key, index, err)
		}
		values = append(values, value)
	}
	return values, true, nil
}

// RestartedMessage is sent upstream after a child reported new dependencies.
func RestartedMessage() Message {
	return Message{KeyRestarted: json.RawMessage(`{}`)}
}

// NewListMessage builds a message carrying a list of strings under key.
func NewListMessage(key string, values []string) (Message, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return Message{key: raw}, nil
}
