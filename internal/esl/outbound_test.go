package esl

import (
	"errors"
	"net"
	"strings"
	"testing"
)

func TestHandshakeCapturesChannelData(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	out := NewOutbound(client, testLogger())
	sw := newFakeSwitch(server)

	go func() {
		cmd, err := sw.readCommand()
		if err != nil {
			return
		}
		if cmd != "connect" {
			t.Errorf("command = %q, want connect", cmd)
		}
		sw.writeReplyWithHeaders(map[string]string{
			"Caller-Destination-Number": "7577828734",
			"Caller-Caller-ID-Number":   "%2B15551230000",
			"Caller-Context":            "public",
			"Unique-ID":                 "e5c54b20-0f10-4d92-b3f2-9a3c6ba1f001",
		})
	}()

	if err := out.Handshake(); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if got := out.Variable("Caller-Destination-Number"); got != "7577828734" {
		t.Errorf("destination = %q, want 7577828734", got)
	}
	if got := out.Variable("Caller-Caller-ID-Number"); got != "+15551230000" {
		t.Errorf("caller = %q, want decoded +15551230000", got)
	}
	if got := out.Variable("Caller-Context"); got != "public" {
		t.Errorf("context = %q, want public", got)
	}
}

func TestExecuteBlockingWaitsForCompletion(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	out := NewOutbound(client, testLogger())
	sw := newFakeSwitch(server)

	go func() {
		cmd, err := sw.readCommand()
		if err != nil {
			return
		}
		if !strings.Contains(cmd, "execute-app-name: bridge") {
			t.Errorf("sendmsg missing app name: %q", cmd)
		}
		if !strings.Contains(cmd, "execute-app-arg: {leg_timeout=30}user/1000") {
			t.Errorf("sendmsg missing app arg: %q", cmd)
		}
		if !strings.Contains(cmd, "event-lock: true") {
			t.Errorf("sendmsg missing event lock: %q", cmd)
		}
		sw.writeReply("+OK")
		// A completion for a different application must not satisfy the wait.
		sw.writeEvent("Event-Name: CHANNEL_EXECUTE_COMPLETE\nApplication: set\n")
		sw.writeEvent("Event-Name: CHANNEL_EXECUTE_COMPLETE\nApplication: bridge\nvariable_originate_disposition: NO_ANSWER\n")
	}()

	if err := out.Bridge("{leg_timeout=30}user/1000"); err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if got := out.Variable("variable_originate_disposition"); got != "NO_ANSWER" {
		t.Errorf("disposition = %q, want NO_ANSWER", got)
	}
}

func TestExecuteBlockingSurvivesLinger(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	out := NewOutbound(client, testLogger())
	sw := newFakeSwitch(server)

	go func() {
		if _, err := sw.readCommand(); err != nil {
			return
		}
		sw.writeReply("+OK")
		// Hangup mid-bridge: linger keeps the socket readable until the
		// completion event has been flushed.
		sw.writeDisconnect(true)
		sw.writeEvent("Event-Name: CHANNEL_HANGUP_COMPLETE\n")
		sw.writeEvent("Event-Name: CHANNEL_EXECUTE_COMPLETE\nApplication: bridge\nvariable_originate_disposition: ORIGINATOR_CANCEL\n")
	}()

	if err := out.ExecuteBlocking("bridge", "user/1001"); err != nil {
		t.Fatalf("ExecuteBlocking: %v", err)
	}
	if got := out.Variable("variable_originate_disposition"); got != "ORIGINATOR_CANCEL" {
		t.Errorf("disposition = %q, want ORIGINATOR_CANCEL", got)
	}
}

func TestExecuteAgainstGoneConnection(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	out := NewOutbound(client, testLogger())
	server.Close()

	if err := out.Answer(); !errors.Is(err, ErrConnectionGone) {
		t.Fatalf("err = %v, want ErrConnectionGone", err)
	}
	if !out.Gone() {
		t.Error("outbound connection should be marked gone")
	}
}

func TestHangupSendsCause(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	out := NewOutbound(client, testLogger())
	sw := newFakeSwitch(server)

	go func() {
		cmd, err := sw.readCommand()
		if err != nil {
			return
		}
		if !strings.Contains(cmd, "call-command: hangup") {
			t.Errorf("missing hangup command: %q", cmd)
		}
		if !strings.Contains(cmd, "hangup-cause: CALL_REJECTED") {
			t.Errorf("missing hangup cause: %q", cmd)
		}
		sw.writeReply("+OK")
	}()

	if err := out.Hangup("CALL_REJECTED"); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
}

func TestParkCommand(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	out := NewOutbound(client, testLogger())
	sw := newFakeSwitch(server)

	go func() {
		cmd, err := sw.readCommand()
		if err != nil {
			return
		}
		if !strings.Contains(cmd, "execute-app-name: valet_park") {
			t.Errorf("missing valet_park: %q", cmd)
		}
		if !strings.Contains(cmd, "execute-app-arg: store1.local 701") {
			t.Errorf("missing lot and slot: %q", cmd)
		}
		sw.writeReply("+OK")
	}()

	if err := out.Park("store1.local", "701"); err != nil {
		t.Fatalf("Park: %v", err)
	}
}
