package esl

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// Outbound is a per-call control connection in the switch's outbound socket
// mode. The switch opens one connection per call; the handshake replies with
// the full channel data, after which channel actions are issued as sendmsg
// commands. All operations are strictly sequential: no action is sent before
// the previous one is acknowledged.
type Outbound struct {
	conn   *Conn
	vars   map[string]string
	logger *slog.Logger
}

// NewOutbound wraps an accepted control connection.
func NewOutbound(nc net.Conn, logger *slog.Logger) *Outbound {
	return &Outbound{
		conn:   NewConn(nc, logger),
		vars:   make(map[string]string),
		logger: logger,
	}
}

// Handshake sends the connect command and captures the channel data carried
// on its reply. Must be called before any other operation.
func (o *Outbound) Handshake() error {
	frame, err := o.conn.Command("connect", o.mergeEvent)
	if err != nil {
		return err
	}
	for k, v := range frame.Headers {
		o.vars[k] = v
	}
	return nil
}

// MyEvents subscribes the connection to its own channel's events.
func (o *Outbound) MyEvents() error {
	_, err := o.conn.Command("myevents", o.mergeEvent)
	return err
}

// Linger asks the switch to keep the socket open after hangup until all
// pending events have been delivered, so post-hangup dispositions remain
// readable.
func (o *Outbound) Linger() error {
	_, err := o.conn.Command("linger", o.mergeEvent)
	return err
}

// Variable returns a channel attribute by its wire name, e.g.
// "Caller-Destination-Number" or "variable_sip_from_host". Values observed
// on later channel events override the handshake snapshot.
func (o *Outbound) Variable(name string) string {
	return o.vars[name]
}

// Gone reports whether the control connection is no longer usable.
func (o *Outbound) Gone() bool {
	return o.conn.Gone()
}

// Close closes the control connection.
func (o *Outbound) Close() error {
	return o.conn.Close()
}

// RemoteAddr returns the switch's address for this connection.
func (o *Outbound) RemoteAddr() string {
	return o.conn.RemoteAddr()
}

// mergeEvent folds an event's headers into the channel data so that values
// set during call progress (notably variable_originate_disposition) can be
// read after an action completes.
func (o *Outbound) mergeEvent(ev *Event) {
	for k, v := range ev.Headers() {
		o.vars[k] = v
	}
}

// Execute runs a dialplan application on the channel and waits only for the
// command acknowledgement, not for the application to finish.
func (o *Outbound) Execute(app, arg string) error {
	return o.sendExecute(app, arg, false)
}

// ExecuteBlocking runs a dialplan application and waits until the switch
// reports the application complete. Events received while waiting update the
// channel data.
func (o *Outbound) ExecuteBlocking(app, arg string) error {
	return o.sendExecute(app, arg, true)
}

func (o *Outbound) sendExecute(app, arg string, block bool) error {
	var sb strings.Builder
	sb.WriteString("sendmsg\ncall-command: execute\nexecute-app-name: ")
	sb.WriteString(app)
	if arg != "" {
		sb.WriteString("\nexecute-app-arg: ")
		sb.WriteString(arg)
	}
	sb.WriteString("\nevent-lock: true")

	if _, err := o.conn.Command(sb.String(), o.mergeEvent); err != nil {
		return err
	}
	if !block {
		return nil
	}
	return o.waitExecuteComplete(app)
}

// waitExecuteComplete reads events until CHANNEL_EXECUTE_COMPLETE for the
// given application arrives. Hangup events are folded in and waiting
// continues; with linger the completion event is still delivered.
func (o *Outbound) waitExecuteComplete(app string) error {
	for {
		frame, err := o.conn.ReadFrame()
		if err != nil {
			return err
		}
		switch frame.ContentType() {
		case contentEventPlain:
			ev := ParseEvent(frame.Body)
			o.mergeEvent(ev)
			if ev.Name() == "CHANNEL_EXECUTE_COMPLETE" && ev.Get("Application") == app {
				return nil
			}
		case contentDisconnectNotice:
			if !o.conn.handleDisconnect(frame) {
				return ErrConnectionGone
			}
		}
	}
}

// SetVar sets a channel variable.
func (o *Outbound) SetVar(name, value string) error {
	return o.Execute("set", name+"="+value)
}

// Answer answers the channel.
func (o *Outbound) Answer() error {
	return o.Execute("answer", "")
}

// Bridge bridges the channel to the given target string and waits for the
// bridge attempt to finish.
func (o *Outbound) Bridge(target string) error {
	return o.ExecuteBlocking("bridge", target)
}

// Park places the call into the named slot of the tenant's parking lot. The
// switch owns the slot from here on and reports transitions on the system
// event feed.
func (o *Outbound) Park(lot, slot string) error {
	return o.Execute("valet_park", lot+" "+slot)
}

// Voicemail drops the caller into the named mailbox and waits for it to
// finish.
func (o *Outbound) Voicemail(profile, domain, extension string) error {
	return o.ExecuteBlocking("voicemail", fmt.Sprintf("%s %s %s", profile, domain, extension))
}

// Hangup terminates the call with the given cause.
func (o *Outbound) Hangup(cause string) error {
	cmd := "sendmsg\ncall-command: hangup\nhangup-cause: " + cause
	_, err := o.conn.Command(cmd, o.mergeEvent)
	return err
}
