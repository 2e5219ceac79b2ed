package router

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// readCommand reads one blank-line-terminated command block from the
// session side of a control connection.
func readCommand(t *testing.T, br *bufio.Reader) string {
	t.Helper()
	var b strings.Builder
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("reading command: %v", err)
		}
		if line == "\n" {
			return strings.TrimRight(b.String(), "\n")
		}
		b.WriteString(line)
	}
}

func writeReply(t *testing.T, conn net.Conn, extra ...string) {
	t.Helper()
	msg := "Content-Type: command/reply\nReply-Text: +OK\n"
	for _, h := range extra {
		msg += h + "\n"
	}
	if _, err := conn.Write([]byte(msg + "\n")); err != nil {
		t.Fatalf("writing reply: %v", err)
	}
}

func startListener(t *testing.T, maxSessions int) (*Listener, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener("127.0.0.1:0", maxSessions, testDirectory(t), nil, testLogger())
	if err := l.Start(ctx); err != nil {
		t.Fatalf("starting listener: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		l.Stop()
	})
	return l, cancel
}

func waitActive(t *testing.T, l *Listener, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for l.ActiveSessions() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ActiveSessions() = %d, want %d", l.ActiveSessions(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListenerRunsSessionToCompletion(t *testing.T) {
	l, _ := startListener(t, 4)

	conn, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("dialing control port: %v", err)
	}
	defer conn.Close()
	br := bufio.NewReader(conn)

	if cmd := readCommand(t, br); cmd != "connect" {
		t.Fatalf("first command = %q, want connect", cmd)
	}
	writeReply(t, conn,
		"Caller-Destination-Number: 123",
		"Caller-Caller-ID-Number: 7042550000",
		"Caller-Context: nowhere",
		"Unique-ID: 6be2f9d0-7e54-4cbb-bd6e-0a4b3d7d0c11",
	)

	if cmd := readCommand(t, br); cmd != "myevents" {
		t.Fatalf("second command = %q, want myevents", cmd)
	}
	writeReply(t, conn)

	if cmd := readCommand(t, br); cmd != "linger" {
		t.Fatalf("third command = %q, want linger", cmd)
	}
	writeReply(t, conn)

	// Unknown context: the session must reject the call.
	cmd := readCommand(t, br)
	if !strings.Contains(cmd, "call-command: hangup") || !strings.Contains(cmd, "CALL_REJECTED") {
		t.Fatalf("terminal command = %q, want hangup CALL_REJECTED", cmd)
	}
	writeReply(t, conn)

	// Session is done; it must close its side.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := br.ReadByte(); err == nil {
		t.Fatal("connection still open after terminal action")
	}
	waitActive(t, l, 0)
}

func TestListenerBoundsConcurrentSessions(t *testing.T) {
	l, _ := startListener(t, 1)

	first, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("dialing control port: %v", err)
	}
	defer first.Close()

	// Hold the only slot: never answer the handshake.
	waitActive(t, l, 1)

	second, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("second dial: %v", err)
	}
	defer second.Close()

	// The second connection sits in the backlog: no session greets it.
	second.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Fatal("second connection got a session while the bound was full")
	}
	if l.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions() = %d, want 1", l.ActiveSessions())
	}

	// Release the slot; the queued connection gets its session.
	first.Close()
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(second)
	if cmd := readCommand(t, br); cmd != "connect" {
		t.Fatalf("queued connection greeting = %q, want connect", cmd)
	}
}

func TestListenerStopClosesPort(t *testing.T) {
	l, cancel := startListener(t, 2)
	addr := l.Addr()

	cancel()
	l.Stop()

	if _, err := net.Dial("tcp", addr); err == nil {
		t.Fatal("control port still accepting after stop")
	}
}
