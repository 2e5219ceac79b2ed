// Package router drives call routing: it accepts the switch's per-call
// control connections and runs one session state machine per call, from
// classification through channel actions to a terminal state.
package router

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/namith-arrellio/fs-ec2/internal/directory"
	"github.com/namith-arrellio/fs-ec2/internal/esl"
)

// ContextPublic is the reserved signaling context for calls arriving from
// the public network via a carrier trunk.
const ContextPublic = "public"

// Channel variable values shared by the routing paths.
const (
	ringbackTone   = "${us-ring}"
	holdMusic      = "local_stream://moh"
	callTimeout    = "30"
	legTimeout     = "30"
	voicemailBox   = "default"
	voicemailPause = 500 * time.Millisecond
)

// Hangup causes issued on terminal rejections.
const (
	causeUnallocated = "UNALLOCATED_NUMBER"
	causeRejected    = "CALL_REJECTED"
	causeNoRoute     = "NO_ROUTE_DESTINATION"
)

// Bridge dispositions that do not fall through to voicemail.
const (
	dispositionSuccess   = "SUCCESS"
	dispositionCancelled = "ORIGINATOR_CANCEL"
)

// Classification is the routing class a call falls into. First match wins,
// in the order Park, PublicInbound, TenantInternal, Rejected.
type Classification int

const (
	ClassPark Classification = iota
	ClassPublicInbound
	ClassTenantInternal
	ClassRejected
)

// String returns the class name used in logs and call records.
func (c Classification) String() string {
	switch c {
	case ClassPark:
		return "park"
	case ClassPublicInbound:
		return "public_inbound"
	case ClassTenantInternal:
		return "tenant_internal"
	default:
		return "rejected"
	}
}

// parkDest matches a parking destination: digits, optionally prefixed with
// the park marker. The captured group is the bare slot number.
var parkDest = regexp.MustCompile(`^(?:park\+)?(\d+)$`)

// Classify determines a call's routing class from its dialed destination
// and signaling context. For Park it also returns the bare slot number.
func Classify(dest, callContext string, dir *directory.Directory) (Classification, string) {
	if m := parkDest.FindStringSubmatch(dest); m != nil && dir.IsParkSlot(m[1]) {
		return ClassPark, m[1]
	}
	if callContext == ContextPublic {
		return ClassPublicInbound, ""
	}
	if _, ok := dir.ByContext(callContext); ok {
		return ClassTenantInternal, ""
	}
	return ClassRejected, ""
}

// Control is the channel-action surface of one call-control connection.
// Each method blocks until the switch acknowledges the action; Bridge and
// Voicemail block until the application completes.
type Control interface {
	Handshake() error
	MyEvents() error
	Linger() error
	Variable(name string) string
	SetVar(name, value string) error
	Answer() error
	Bridge(target string) error
	Park(lot, slot string) error
	Voicemail(profile, domain, extension string) error
	Hangup(cause string) error
	Close() error
	RemoteAddr() string
}

var _ Control = (*esl.Outbound)(nil)

// CallRecord summarizes one finished session.
type CallRecord struct {
	CallID      string
	Tenant      string
	Caller      string
	Callee      string
	Context     string
	Route       string
	Disposition string
	StartedAt   time.Time
	EndedAt     time.Time
}

// RecordWriter persists call records. Writes are best-effort; a failure is
// logged and never affects call handling.
type RecordWriter interface {
	Write(ctx context.Context, rec CallRecord) error
}

// Session is the per-call state machine. Exactly one goroutine runs it; it
// owns its control connection and shares nothing with other sessions.
type Session struct {
	conn    Control
	dir     *directory.Directory
	records RecordWriter
	logger  *slog.Logger
	pause   time.Duration
}

// NewSession creates a session for one accepted control connection.
// records may be nil when call history is disabled.
func NewSession(conn Control, dir *directory.Directory, records RecordWriter, logger *slog.Logger) *Session {
	return &Session{
		conn:    conn,
		dir:     dir,
		records: records,
		logger:  logger.With("component", "session"),
		pause:   voicemailPause,
	}
}

// Run drives the session to a terminal state. The control connection is
// always closed on return; a connection that went away mid-action is a
// normal ending, and any other failure is logged and the connection
// forcibly stopped so the switch never waits on a silent socket.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	rec := CallRecord{StartedAt: time.Now()}
	defer s.writeRecord(ctx, &rec)

	if err := s.setup(); err != nil {
		s.logger.Info("control connection lost during setup", "error", err)
		return
	}

	dest := s.conn.Variable("Caller-Destination-Number")
	caller := s.conn.Variable("Caller-Caller-ID-Number")
	callContext := s.conn.Variable("Caller-Context")
	callID := s.conn.Variable("Unique-ID")

	logger := s.logger.With("call_id", shortID(callID))
	logger.Info("new call",
		"caller", caller,
		"destination", dest,
		"context", callContext,
	)

	class, slot := Classify(dest, callContext, s.dir)

	rec.CallID = callID
	rec.Caller = caller
	rec.Callee = dest
	rec.Context = callContext
	rec.Route = class.String()

	var (
		disposition string
		tenant      *directory.Tenant
		err         error
	)

	switch class {
	case ClassPark:
		disposition, tenant, err = s.actPark(logger, callContext, slot)
	case ClassPublicInbound:
		disposition, tenant, err = s.actPublicInbound(logger, dest)
	case ClassTenantInternal:
		disposition, tenant, err = s.actTenantInternal(logger, dest, callContext)
	default:
		logger.Warn("unknown context, rejecting call", "context", callContext)
		disposition, err = "rejected", s.conn.Hangup(causeRejected)
	}

	if tenant != nil {
		rec.Tenant = tenant.Domain
	}
	rec.Disposition = disposition

	switch {
	case errors.Is(err, esl.ErrConnectionGone):
		logger.Info("call ended or transferred")
		if rec.Disposition == "" {
			rec.Disposition = "gone"
		}
	case err != nil:
		logger.Error("session failed, stopping connection",
			"route", class.String(),
			"error", err,
		)
		rec.Disposition = "error"
	default:
		logger.Info("session complete",
			"route", class.String(),
			"disposition", disposition,
		)
	}
}

// setup subscribes the session to its own channel events and arranges
// event delivery past hangup, so post-bridge dispositions stay readable.
func (s *Session) setup() error {
	if err := s.conn.Handshake(); err != nil {
		return err
	}
	if err := s.conn.MyEvents(); err != nil {
		return err
	}
	return s.conn.Linger()
}

// actPark places the call into the owning tenant's parking lot. The switch
// owns the slot lifecycle from here; transitions surface on the system
// event feed, not on this connection.
func (s *Session) actPark(logger *slog.Logger, callContext, slot string) (string, *directory.Tenant, error) {
	tenant, ok := s.dir.ByContext(callContext)
	if !ok {
		tenant = s.dir.ResolveForSession(s.conn)
	}

	logger.Info("parking call", "lot", tenant.Domain, "slot", slot)

	if err := s.conn.SetVar("fifo_music", holdMusic); err != nil {
		return "", tenant, err
	}
	if err := s.conn.Park(tenant.Domain, slot); err != nil {
		return "", tenant, err
	}
	return "parked", tenant, nil
}

// actPublicInbound routes a public-network call to the DID owner's ring
// group, falling through to the first member's voicemail when nobody
// answers.
func (s *Session) actPublicInbound(logger *slog.Logger, dest string) (string, *directory.Tenant, error) {
	tenant, ok := s.dir.ResolveByDID(dest)
	if !ok {
		logger.Warn("no tenant for dialed number", "destination", dest)
		return "unallocated", nil, s.conn.Hangup(causeUnallocated)
	}
	if len(tenant.RingGroup) == 0 {
		logger.Warn("tenant has no ring group", "tenant", tenant.Domain)
		return "no_route", tenant, s.conn.Hangup(causeNoRoute)
	}

	logger.Info("inbound call", "tenant", tenant.Domain)

	if err := s.setVars(
		"domain_name", tenant.Domain,
		"ringback", ringbackTone,
		"call_timeout", callTimeout,
		"hangup_after_bridge", "true",
		"continue_on_fail", "true",
	); err != nil {
		return "", tenant, err
	}

	targets := make([]string, len(tenant.RingGroup))
	for i, ext := range tenant.RingGroup {
		targets[i] = "user/" + ext
	}
	bridge := "{leg_timeout=" + legTimeout + ",ignore_early_media=true}" + strings.Join(targets, ",")

	logger.Info("ringing group", "targets", strings.Join(targets, ","))

	if err := s.conn.Bridge(bridge); err != nil {
		return "", tenant, err
	}

	switch disposition := s.conn.Variable("variable_originate_disposition"); disposition {
	case dispositionSuccess:
		return "answered", tenant, nil
	case dispositionCancelled:
		return "cancelled", tenant, nil
	default:
		logger.Info("bridge unanswered, sending to voicemail", "bridge_result", disposition)
		return s.sendToVoicemail(tenant)
	}
}

// sendToVoicemail answers the caller, waits a beat, and drops them into the
// first ring-group member's mailbox.
func (s *Session) sendToVoicemail(tenant *directory.Tenant) (string, *directory.Tenant, error) {
	if err := s.conn.Answer(); err != nil {
		return "", tenant, err
	}
	time.Sleep(s.pause)
	if err := s.conn.Voicemail(voicemailBox, tenant.Domain, tenant.RingGroup[0]); err != nil {
		return "", tenant, err
	}
	return "voicemail", tenant, nil
}

// actTenantInternal routes a call from a registered phone: to a sibling
// extension, out through the tenant's trunk, or nowhere.
func (s *Session) actTenantInternal(logger *slog.Logger, dest, callContext string) (string, *directory.Tenant, error) {
	tenant, _ := s.dir.ByContext(callContext)

	if tenant.HasExtension(dest) {
		logger.Info("extension call", "extension", dest, "tenant", tenant.Domain)

		if err := s.setVars(
			"ringback", ringbackTone,
			"call_timeout", callTimeout,
			"hangup_after_bridge", "true",
		); err != nil {
			return "", tenant, err
		}
		if err := s.conn.Bridge("user/" + dest); err != nil {
			return "", tenant, err
		}
		return "extension", tenant, nil
	}

	if len(directory.Normalize(dest)) >= 10 {
		number := directory.FormatOutbound(dest)
		logger.Info("outbound call", "number", number, "trunk", tenant.Trunk.Name)

		if err := s.setVars(
			"effective_caller_id_number", tenant.CallerID,
			"hangup_after_bridge", "true",
		); err != nil {
			return "", tenant, err
		}
		if err := s.conn.Bridge("trunk/" + tenant.Trunk.Name + "/" + number); err != nil {
			return "", tenant, err
		}
		return "outbound", tenant, nil
	}

	logger.Warn("unroutable destination", "destination", dest, "tenant", tenant.Domain)
	return "unallocated", tenant, s.conn.Hangup(causeUnallocated)
}

// setVars sets channel variables from name/value pairs, stopping on the
// first failure.
func (s *Session) setVars(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := s.conn.SetVar(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// writeRecord persists the call record, best-effort.
func (s *Session) writeRecord(ctx context.Context, rec *CallRecord) {
	if s.records == nil {
		return
	}
	rec.EndedAt = time.Now()
	if err := s.records.Write(ctx, *rec); err != nil {
		s.logger.Warn("writing call record",
			"call_id", shortID(rec.CallID),
			"error", err,
		)
	}
}

// shortID truncates a call's unique identifier for log lines.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
