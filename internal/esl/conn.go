package esl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
)

// ErrConnectionGone reports that the call-control connection is no longer
// usable: the switch closed it, or sent a disconnect notice without linger.
// It is an expected terminal outcome, not a failure.
var ErrConnectionGone = errors.New("esl: connection gone")

// Frame content types used by the event socket protocol.
const (
	contentAuthRequest      = "auth/request"
	contentCommandReply     = "command/reply"
	contentAPIResponse      = "api/response"
	contentEventPlain       = "text/event-plain"
	contentDisconnectNotice = "text/disconnect-notice"
)

// Frame is one protocol unit read off the socket: a MIME-style header block
// plus an optional Content-Length delimited body.
type Frame struct {
	Headers map[string]string
	Body    []byte
}

// ContentType returns the frame's Content-Type header.
func (f *Frame) ContentType() string {
	return f.Headers["Content-Type"]
}

// ReplyText returns the Reply-Text header of a command/reply frame.
func (f *Frame) ReplyText() string {
	return f.Headers["Reply-Text"]
}

// Conn is a single event socket connection. It is used in two roles: the
// per-call control connection the switch opens toward the listener, and the
// process-wide system event feed the client dials. Reads and writes are not
// internally synchronized; each connection is driven by exactly one
// goroutine.
type Conn struct {
	nc     net.Conn
	br     *bufio.Reader
	gone   bool
	logger *slog.Logger
}

// NewConn wraps an established socket.
func NewConn(nc net.Conn, logger *slog.Logger) *Conn {
	return &Conn{
		nc:     nc,
		br:     bufio.NewReader(nc),
		logger: logger,
	}
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr returns the peer address, for logging.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// Gone reports whether the connection has been marked unusable.
func (c *Conn) Gone() bool {
	return c.gone
}

// ReadFrame reads one protocol frame. Any read failure marks the
// connection gone.
func (c *Conn) ReadFrame() (*Frame, error) {
	headers, err := readHeaders(c.br)
	if err != nil {
		c.gone = true
		return nil, ErrConnectionGone
	}

	frame := &Frame{Headers: headers}

	if cl := headers["Content-Length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			c.gone = true
			return nil, fmt.Errorf("esl: bad content-length %q", cl)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(c.br, body); err != nil {
			c.gone = true
			return nil, ErrConnectionGone
		}
		frame.Body = body
	}

	return frame, nil
}

// WriteCommand sends a raw command, terminated by the protocol's blank line.
func (c *Conn) WriteCommand(cmd string) error {
	if c.gone {
		return ErrConnectionGone
	}
	if _, err := io.WriteString(c.nc, cmd+"\n\n"); err != nil {
		c.gone = true
		return ErrConnectionGone
	}
	return nil
}

// Command sends a raw command and reads frames until its command/reply (or
// api/response) arrives. Event frames received in the meantime are handed to
// onEvent; disconnect notices are honored inline.
func (c *Conn) Command(cmd string, onEvent func(*Event)) (*Frame, error) {
	if err := c.WriteCommand(cmd); err != nil {
		return nil, err
	}
	return c.awaitReply(onEvent)
}

// awaitReply reads frames until a command/reply or api/response frame.
func (c *Conn) awaitReply(onEvent func(*Event)) (*Frame, error) {
	for {
		frame, err := c.ReadFrame()
		if err != nil {
			return nil, err
		}

		switch frame.ContentType() {
		case contentCommandReply, contentAPIResponse:
			if reply := frame.ReplyText(); strings.HasPrefix(reply, "-ERR") {
				return frame, fmt.Errorf("esl: command rejected: %s", reply)
			}
			return frame, nil

		case contentEventPlain:
			if onEvent != nil {
				onEvent(ParseEvent(frame.Body))
			}

		case contentDisconnectNotice:
			if !c.handleDisconnect(frame) {
				return nil, ErrConnectionGone
			}

		default:
			c.logger.Debug("ignoring unexpected frame",
				"content_type", frame.ContentType(),
			)
		}
	}
}

// handleDisconnect processes a disconnect notice. With linger in effect the
// switch keeps the socket open to flush remaining events, so the connection
// stays readable; otherwise it is gone. Returns true if still usable.
func (c *Conn) handleDisconnect(frame *Frame) bool {
	if strings.Contains(frame.Headers["Content-Disposition"], "linger") {
		c.logger.Debug("disconnect notice with linger, draining events")
		return true
	}
	c.gone = true
	return false
}

// Auth answers the feed's auth/request challenge. Used by the system event
// feed client; per-call control connections are not challenged.
func (c *Conn) Auth(password string) error {
	frame, err := c.ReadFrame()
	if err != nil {
		return err
	}
	if frame.ContentType() != contentAuthRequest {
		return fmt.Errorf("esl: expected auth request, got %q", frame.ContentType())
	}
	if _, err := c.Command("auth "+password, nil); err != nil {
		return fmt.Errorf("esl: authentication failed: %w", err)
	}
	return nil
}

// Subscribe requests delivery of the named events in plain format.
func (c *Conn) Subscribe(events ...string) error {
	_, err := c.Command("event plain "+strings.Join(events, " "), nil)
	return err
}

// ReadEvent reads frames until the next event arrives. Non-event frames are
// skipped; a disconnect notice terminates the stream.
func (c *Conn) ReadEvent() (*Event, error) {
	for {
		frame, err := c.ReadFrame()
		if err != nil {
			return nil, err
		}
		switch frame.ContentType() {
		case contentEventPlain:
			return ParseEvent(frame.Body), nil
		case contentDisconnectNotice:
			if !c.handleDisconnect(frame) {
				return nil, ErrConnectionGone
			}
		default:
			c.logger.Debug("ignoring unexpected frame",
				"content_type", frame.ContentType(),
			)
		}
	}
}
