package directory

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := New(Builtin(), "", testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestNewRejectsDuplicateDID(t *testing.T) {
	tenants := Builtin()
	tenants[1].DIDs = append(tenants[1].DIDs, "7577828734")

	if _, err := New(tenants, "", testLogger()); err == nil {
		t.Fatal("expected error for DID claimed by two tenants")
	}
}

func TestNewRejectsDuplicateContext(t *testing.T) {
	tenants := Builtin()
	tenants[1].Context = tenants[0].Context

	if _, err := New(tenants, "", testLogger()); err == nil {
		t.Fatal("expected error for context claimed by two tenants")
	}
}

func TestNewRejectsDuplicateSlotInLot(t *testing.T) {
	tenants := Builtin()
	tenants[0].ParkSlots = []string{"700", "700"}

	if _, err := New(tenants, "", testLogger()); err == nil {
		t.Fatal("expected error for repeated slot in one lot")
	}
}

func TestNewAllowsSameSlotAcrossLots(t *testing.T) {
	// Both builtin tenants list slots 700-709; lots are per-tenant namespaces.
	testDirectory(t)
}

func TestNewUnknownDefaultTenant(t *testing.T) {
	if _, err := New(Builtin(), "store9.local", testLogger()); err == nil {
		t.Fatal("expected error for unconfigured default tenant")
	}
}

func TestDefaultTenantSelection(t *testing.T) {
	d, err := New(Builtin(), "store2.local", testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := d.Default().Domain; got != "store2.local" {
		t.Errorf("Default() = %q, want store2.local", got)
	}

	d = testDirectory(t)
	if got := d.Default().Domain; got != "store1.local" {
		t.Errorf("Default() with no config = %q, want first tenant store1.local", got)
	}
}

func TestLookups(t *testing.T) {
	d := testDirectory(t)

	if _, ok := d.ByDomain("store1.local"); !ok {
		t.Error("ByDomain(store1.local) not found")
	}
	if _, ok := d.ByDomain("nosuch.local"); ok {
		t.Error("ByDomain(nosuch.local) unexpectedly found")
	}
	if tenant, ok := d.ByContext("store2"); !ok || tenant.Domain != "store2.local" {
		t.Errorf("ByContext(store2) = %v, %v", tenant, ok)
	}
	if !d.IsParkSlot("701") {
		t.Error("IsParkSlot(701) = false, want true")
	}
	if d.IsParkSlot("1000") {
		t.Error("IsParkSlot(1000) = true, want false")
	}
}

func TestHasExtension(t *testing.T) {
	d := testDirectory(t)
	tenant, _ := d.ByDomain("store1.local")

	if !tenant.HasExtension("1000") {
		t.Error("HasExtension(1000) = false")
	}
	if tenant.HasExtension("2000") {
		t.Error("HasExtension(2000) = true")
	}
}
