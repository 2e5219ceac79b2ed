package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/namith-arrellio/fs-ec2/internal/directory"
	"github.com/namith-arrellio/fs-ec2/internal/esl"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDirectory(t *testing.T) *directory.Directory {
	t.Helper()
	dir, err := directory.New(directory.Builtin(), "", testLogger())
	if err != nil {
		t.Fatalf("building directory: %v", err)
	}
	return dir
}

// fakeControl records the channel actions a session issues, in order.
type fakeControl struct {
	vars        map[string]string
	actions     []string
	disposition string // reported originate disposition after a bridge
	goneAt      string // action verb after which the connection is gone
	closed      bool
}

func newFakeControl(vars map[string]string) *fakeControl {
	if vars == nil {
		vars = map[string]string{}
	}
	return &fakeControl{vars: vars}
}

func (f *fakeControl) do(action string) error {
	f.actions = append(f.actions, action)
	if f.goneAt != "" && strings.HasPrefix(action, f.goneAt) {
		return esl.ErrConnectionGone
	}
	return nil
}

func (f *fakeControl) Handshake() error { return f.do("handshake") }
func (f *fakeControl) MyEvents() error  { return f.do("myevents") }
func (f *fakeControl) Linger() error    { return f.do("linger") }

func (f *fakeControl) Variable(name string) string { return f.vars[name] }

func (f *fakeControl) SetVar(name, value string) error {
	return f.do("set " + name + "=" + value)
}

func (f *fakeControl) Answer() error { return f.do("answer") }

func (f *fakeControl) Bridge(target string) error {
	err := f.do("bridge " + target)
	if f.disposition != "" {
		f.vars["variable_originate_disposition"] = f.disposition
	}
	return err
}

func (f *fakeControl) Park(lot, slot string) error {
	return f.do("park " + lot + " " + slot)
}

func (f *fakeControl) Voicemail(profile, domain, extension string) error {
	return f.do(fmt.Sprintf("voicemail %s %s %s", profile, domain, extension))
}

func (f *fakeControl) Hangup(cause string) error { return f.do("hangup " + cause) }

func (f *fakeControl) Close() error {
	f.closed = true
	return nil
}

func (f *fakeControl) RemoteAddr() string { return "10.0.0.5:41234" }

func callVars(dest, callContext string) map[string]string {
	return map[string]string{
		"Caller-Destination-Number": dest,
		"Caller-Caller-ID-Number":   "7042550000",
		"Caller-Context":            callContext,
		"Unique-ID":                 "f2d1c9aa-68c1-4f3e-9d20-21f47c1a9b01",
	}
}

func runSession(t *testing.T, fc *fakeControl, records RecordWriter) {
	t.Helper()
	sess := NewSession(fc, testDirectory(t), records, testLogger())
	sess.pause = 0
	sess.Run(context.Background())
	if !fc.closed {
		t.Fatal("control connection left open after session")
	}
}

func TestClassify(t *testing.T) {
	dir := testDirectory(t)

	tests := []struct {
		dest, callContext string
		want              Classification
		wantSlot          string
	}{
		{"701", "store1", ClassPark, "701"},
		{"park+701", "store1", ClassPark, "701"},
		{"709", "public", ClassPark, "709"},
		{"710", "store1", ClassTenantInternal, ""},
		{"7577828734", "public", ClassPublicInbound, ""},
		{"1000", "store1", ClassTenantInternal, ""},
		{"15551234567", "store2", ClassTenantInternal, ""},
		{"1000", "nosuch", ClassRejected, ""},
	}
	for _, tt := range tests {
		got, slot := Classify(tt.dest, tt.callContext, dir)
		if got != tt.want || slot != tt.wantSlot {
			t.Errorf("Classify(%q, %q) = %v, %q, want %v, %q",
				tt.dest, tt.callContext, got, slot, tt.want, tt.wantSlot)
		}
	}
}

func TestPublicInboundAnswered(t *testing.T) {
	fc := newFakeControl(callVars("7577828734", "public"))
	fc.disposition = "SUCCESS"

	runSession(t, fc, nil)

	want := []string{
		"handshake",
		"myevents",
		"linger",
		"set domain_name=store1.local",
		"set ringback=${us-ring}",
		"set call_timeout=30",
		"set hangup_after_bridge=true",
		"set continue_on_fail=true",
		"bridge {leg_timeout=30,ignore_early_media=true}user/1000,user/1001",
	}
	if !reflect.DeepEqual(fc.actions, want) {
		t.Errorf("actions = %q, want %q", fc.actions, want)
	}
}

func TestPublicInboundVoicemailFallback(t *testing.T) {
	fc := newFakeControl(callVars("7372449688", "public"))
	fc.disposition = "NO_ANSWER"

	runSession(t, fc, nil)

	tail := fc.actions[len(fc.actions)-2:]
	want := []string{"answer", "voicemail default store2.local 1000"}
	if !reflect.DeepEqual(tail, want) {
		t.Errorf("final actions = %q, want %q", tail, want)
	}
}

func TestPublicInboundCancelledSkipsVoicemail(t *testing.T) {
	fc := newFakeControl(callVars("7577828734", "public"))
	fc.disposition = "ORIGINATOR_CANCEL"

	runSession(t, fc, nil)

	for _, a := range fc.actions {
		if strings.HasPrefix(a, "voicemail") || a == "answer" {
			t.Errorf("unexpected action %q after cancelled bridge", a)
		}
	}
}

func TestPublicInboundUnallocated(t *testing.T) {
	fc := newFakeControl(callVars("9999999999", "public"))

	runSession(t, fc, nil)

	last := fc.actions[len(fc.actions)-1]
	if last != "hangup UNALLOCATED_NUMBER" {
		t.Errorf("last action = %q, want hangup UNALLOCATED_NUMBER", last)
	}
	for _, a := range fc.actions {
		if strings.HasPrefix(a, "bridge") {
			t.Errorf("unexpected bridge %q for unallocated number", a)
		}
	}
}

func TestParkBySlotNumber(t *testing.T) {
	for _, dest := range []string{"701", "park+701"} {
		fc := newFakeControl(callVars(dest, "store1"))
		runSession(t, fc, nil)

		want := []string{
			"handshake",
			"myevents",
			"linger",
			"set fifo_music=local_stream://moh",
			"park store1.local 701",
		}
		if !reflect.DeepEqual(fc.actions, want) {
			t.Errorf("dest %q: actions = %q, want %q", dest, fc.actions, want)
		}
	}
}

func TestParkResolvesTenantFromVariables(t *testing.T) {
	vars := callVars("702", "public")
	vars["variable_domain_name"] = "store2.local"
	fc := newFakeControl(vars)

	runSession(t, fc, nil)

	last := fc.actions[len(fc.actions)-1]
	if last != "park store2.local 702" {
		t.Errorf("last action = %q, want park store2.local 702", last)
	}
}

func TestInternalExtensionBridge(t *testing.T) {
	fc := newFakeControl(callVars("1001", "store1"))
	fc.disposition = "SUCCESS"

	runSession(t, fc, nil)

	want := []string{
		"handshake",
		"myevents",
		"linger",
		"set ringback=${us-ring}",
		"set call_timeout=30",
		"set hangup_after_bridge=true",
		"bridge user/1001",
	}
	if !reflect.DeepEqual(fc.actions, want) {
		t.Errorf("actions = %q, want %q", fc.actions, want)
	}
}

func TestInternalOutboundTrunk(t *testing.T) {
	tests := []struct {
		dest string
		want string
	}{
		{"15551234567", "bridge trunk/telnyx_store2/+15551234567"},
		{"5551234567", "bridge trunk/telnyx_store2/+15551234567"},
		{"+15551234567", "bridge trunk/telnyx_store2/+15551234567"},
	}
	for _, tt := range tests {
		fc := newFakeControl(callVars(tt.dest, "store2"))
		fc.disposition = "SUCCESS"
		runSession(t, fc, nil)

		last := fc.actions[len(fc.actions)-1]
		if last != tt.want {
			t.Errorf("dest %q: last action = %q, want %q", tt.dest, last, tt.want)
		}
		var cid bool
		for _, a := range fc.actions {
			if a == "set effective_caller_id_number=+17372449688" {
				cid = true
			}
		}
		if !cid {
			t.Errorf("dest %q: tenant caller ID was not set", tt.dest)
		}
	}
}

func TestInternalShortUnroutable(t *testing.T) {
	fc := newFakeControl(callVars("411", "store1"))

	runSession(t, fc, nil)

	last := fc.actions[len(fc.actions)-1]
	if last != "hangup UNALLOCATED_NUMBER" {
		t.Errorf("last action = %q, want hangup UNALLOCATED_NUMBER", last)
	}
}

func TestUnknownContextRejected(t *testing.T) {
	fc := newFakeControl(callVars("1000", "intruder"))

	runSession(t, fc, nil)

	last := fc.actions[len(fc.actions)-1]
	if last != "hangup CALL_REJECTED" {
		t.Errorf("last action = %q, want hangup CALL_REJECTED", last)
	}
}

func TestConnectionGoneDuringBridgeEndsQuietly(t *testing.T) {
	fc := newFakeControl(callVars("7577828734", "public"))
	fc.goneAt = "bridge"

	runSession(t, fc, nil)

	for _, a := range fc.actions {
		if strings.HasPrefix(a, "voicemail") || strings.HasPrefix(a, "hangup") {
			t.Errorf("unexpected action %q after connection went away", a)
		}
	}
}

func TestConnectionGoneDuringSetup(t *testing.T) {
	fc := newFakeControl(nil)
	fc.goneAt = "handshake"

	runSession(t, fc, nil)

	if len(fc.actions) != 1 {
		t.Errorf("actions = %q, want only the handshake attempt", fc.actions)
	}
}

func TestSameInputSameActions(t *testing.T) {
	run := func() []string {
		fc := newFakeControl(callVars("7577828734", "public"))
		fc.disposition = "SUCCESS"
		runSession(t, fc, nil)
		return fc.actions
	}
	if first, second := run(), run(); !reflect.DeepEqual(first, second) {
		t.Errorf("identical calls produced different actions:\n%q\n%q", first, second)
	}
}

type captureWriter struct {
	recs []CallRecord
	err  error
}

func (w *captureWriter) Write(_ context.Context, rec CallRecord) error {
	w.recs = append(w.recs, rec)
	return w.err
}

func TestCallRecordWritten(t *testing.T) {
	fc := newFakeControl(callVars("7577828734", "public"))
	fc.disposition = "SUCCESS"
	w := &captureWriter{}

	runSession(t, fc, w)

	if len(w.recs) != 1 {
		t.Fatalf("records written = %d, want 1", len(w.recs))
	}
	rec := w.recs[0]
	if rec.Tenant != "store1.local" {
		t.Errorf("Tenant = %q, want store1.local", rec.Tenant)
	}
	if rec.Route != "public_inbound" {
		t.Errorf("Route = %q, want public_inbound", rec.Route)
	}
	if rec.Disposition != "answered" {
		t.Errorf("Disposition = %q, want answered", rec.Disposition)
	}
	if rec.Callee != "7577828734" || rec.Caller != "7042550000" {
		t.Errorf("parties = %q -> %q", rec.Caller, rec.Callee)
	}
	if rec.EndedAt.Before(rec.StartedAt) {
		t.Error("EndedAt precedes StartedAt")
	}
}

func TestCallRecordWriteFailureIgnored(t *testing.T) {
	fc := newFakeControl(callVars("1000", "store1"))
	fc.disposition = "SUCCESS"
	w := &captureWriter{err: errors.New("disk full")}

	runSession(t, fc, w) // must not panic or leave the connection open
}
