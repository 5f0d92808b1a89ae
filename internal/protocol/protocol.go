// Package protocol defines the console wire protocol: JSON envelopes of the
// form {"event": "<name>", "data": {...}} exchanged over one WebSocket per
// viewer.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Viewer → server events.
const (
	EventJoinConsole   = "join_console"
	EventConsoleInput  = "console_input"
	EventConsoleResize = "console_resize"
	EventLeaveConsole  = "leave_console"
)

// Server → viewer events.
const (
	EventConsoleOutput = "console_output"
	EventConsoleJoined = "console_joined"
	EventConsoleClosed = "console_closed"
	EventConsoleError  = "console_error"
)

// Error codes carried by console_error.
const (
	CodeSessionUnavailable = "session_unavailable"
	CodeInvalidDimensions  = "invalid_dimensions"
	CodeServerMismatch     = "server_mismatch"
	CodeNotJoined          = "not_joined"
	CodeSessionClosed      = "session_closed"
	CodeBadRequest         = "bad_request"
	CodeInputTooLarge      = "input_too_large"
	CodeSlowConsumer       = "slow_consumer"
	CodeInternal           = "internal_error"
)

// ErrBadRequest is wrapped by every Decode failure.
var ErrBadRequest = errors.New("malformed console event")

// Envelope is the raw form of an inbound frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Outbound is a server → viewer frame.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Inbound is a decoded viewer → server event.
type Inbound interface {
	EventName() string
	Server() string
}

type JoinConsole struct {
	ServerID string `json:"server_id"`
	Cols     *int   `json:"cols,omitempty"`
	Rows     *int   `json:"rows,omitempty"`
}

type ConsoleInput struct {
	ServerID string `json:"server_id"`
	Command  string `json:"command"`
}

type ConsoleResize struct {
	ServerID string `json:"server_id"`
	Cols     int    `json:"cols"`
	Rows     int    `json:"rows"`
}

type LeaveConsole struct {
	ServerID string `json:"server_id"`
}

func (*JoinConsole) EventName() string   { return EventJoinConsole }
func (*ConsoleInput) EventName() string  { return EventConsoleInput }
func (*ConsoleResize) EventName() string { return EventConsoleResize }
func (*LeaveConsole) EventName() string  { return EventLeaveConsole }

func (m *JoinConsole) Server() string   { return m.ServerID }
func (m *ConsoleInput) Server() string  { return m.ServerID }
func (m *ConsoleResize) Server() string { return m.ServerID }
func (m *LeaveConsole) Server() string  { return m.ServerID }

// Decode parses one inbound frame. It checks the structure only: the event
// must be known, the payload must be an object of the right shape and
// server_id must be present. Dimension values are validated by the caller.
func Decode(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	var msg Inbound
	switch env.Event {
	case EventJoinConsole:
		msg = &JoinConsole{}
	case EventConsoleInput:
		msg = &ConsoleInput{}
	case EventConsoleResize:
		msg = &ConsoleResize{}
	case EventLeaveConsole:
		msg = &LeaveConsole{}
	case "":
		return nil, fmt.Errorf("%w: missing event name", ErrBadRequest)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrBadRequest, env.Event)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("%w: %s: missing data", ErrBadRequest, env.Event)
	}
	if err := json.Unmarshal(env.Data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadRequest, env.Event, err)
	}
	if msg.Server() == "" {
		return nil, fmt.Errorf("%w: %s: server_id is required", ErrBadRequest, env.Event)
	}
	return msg, nil
}

type ConsoleOutput struct {
	Data string `json:"data"`
}

type ConsoleJoined struct {
	ServerID string `json:"server_id"`
	Cols     uint16 `json:"cols"`
	Rows     uint16 `json:"rows"`
	Viewers  int    `json:"viewers"`
}

type ConsoleClosed struct {
	ServerID string `json:"server_id"`
	Reason   string `json:"reason"`
}

type ConsoleError struct {
	ServerID string `json:"server_id,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

func Output(data string) Outbound {
	return Outbound{Event: EventConsoleOutput, Data: ConsoleOutput{Data: data}}
}

func Joined(serverID string, cols, rows uint16, viewers int) Outbound {
	return Outbound{Event: EventConsoleJoined, Data: ConsoleJoined{ServerID: serverID, Cols: cols, Rows: rows, Viewers: viewers}}
}

func Closed(serverID, reason string) Outbound {
	return Outbound{Event: EventConsoleClosed, Data: ConsoleClosed{ServerID: serverID, Reason: reason}}
}

func Error(serverID, code, message string) Outbound {
	return Outbound{Event: EventConsoleError, Data: ConsoleError{ServerID: serverID, Code: code, Message: message}}
}

// Notice formats a bracketed status line for display in the terminal.
func Notice(text string) Outbound {
	return Output("\r\n[PGSM] " + text + "\r\n")
}
