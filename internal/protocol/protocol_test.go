package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		event string
		check func(t *testing.T, msg Inbound)
	}{
		{
			name:  "join with size",
			raw:   `{"event":"join_console","data":{"server_id":"srv-1","cols":120,"rows":40}}`,
			event: EventJoinConsole,
			check: func(t *testing.T, msg Inbound) {
				m := msg.(*JoinConsole)
				if m.Cols == nil || *m.Cols != 120 || m.Rows == nil || *m.Rows != 40 {
					t.Errorf("unexpected size: %+v", m)
				}
			},
		},
		{
			name:  "join without size",
			raw:   `{"event":"join_console","data":{"server_id":"srv-1"}}`,
			event: EventJoinConsole,
			check: func(t *testing.T, msg Inbound) {
				m := msg.(*JoinConsole)
				if m.Cols != nil || m.Rows != nil {
					t.Errorf("expected absent size, got %+v", m)
				}
			},
		},
		{
			name:  "input keeps control sequences",
			raw:   `{"event":"console_input","data":{"server_id":"srv-1","command":"ls\r\u001b[A"}}`,
			event: EventConsoleInput,
			check: func(t *testing.T, msg Inbound) {
				if got := msg.(*ConsoleInput).Command; got != "ls\r\x1b[A" {
					t.Errorf("Command = %q", got)
				}
			},
		},
		{
			name:  "resize",
			raw:   `{"event":"console_resize","data":{"server_id":"srv-1","cols":0,"rows":24}}`,
			event: EventConsoleResize,
			check: func(t *testing.T, msg Inbound) {
				m := msg.(*ConsoleResize)
				if m.Cols != 0 || m.Rows != 24 {
					t.Errorf("unexpected resize: %+v", m)
				}
			},
		},
		{
			name:  "leave",
			raw:   `{"event":"leave_console","data":{"server_id":"srv-1"}}`,
			event: EventLeaveConsole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if msg.EventName() != tt.event {
				t.Errorf("EventName() = %q, want %q", msg.EventName(), tt.event)
			}
			if msg.Server() != "srv-1" {
				t.Errorf("Server() = %q, want srv-1", msg.Server())
			}
			if tt.check != nil {
				tt.check(t, msg)
			}
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"missing event", `{"data":{"server_id":"srv-1"}}`},
		{"unknown event", `{"event":"console_reboot","data":{"server_id":"srv-1"}}`},
		{"missing data", `{"event":"join_console"}`},
		{"null data", `{"event":"join_console","data":null}`},
		{"missing server id", `{"event":"console_input","data":{"command":"ls"}}`},
		{"wrong type", `{"event":"console_resize","data":{"server_id":"srv-1","cols":"wide","rows":24}}`},
		{"data not object", `{"event":"leave_console","data":"srv-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if !errors.Is(err, ErrBadRequest) {
				t.Errorf("expected ErrBadRequest, got %v", err)
			}
		})
	}
}

func TestOutboundJSON(t *testing.T) {
	data, err := json.Marshal(Output("hello\r\n"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"event":"console_output","data":{"data":"hello\r\n"}}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	data, _ = json.Marshal(Error("", CodeNotJoined, "not joined"))
	want = `{"event":"console_error","data":{"code":"not_joined","message":"not joined"}}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	data, _ = json.Marshal(Joined("srv-1", 80, 24, 2))
	want = `{"event":"console_joined","data":{"server_id":"srv-1","cols":80,"rows":24,"viewers":2}}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}
