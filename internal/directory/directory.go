// Package directory holds the static tenant routing facts and the lookup
// logic that maps numbers, domains, and signaling contexts onto tenants.
// A Directory is built once at startup and is immutable afterwards, so it
// may be shared by every component without synchronization.
package directory

import (
	"fmt"
	"log/slog"
)

// User is a provisioned device account within a tenant.
type User struct {
	Password          string `json:"password"`
	VoicemailPassword string `json:"vm_password"`
	Name              string `json:"name"`
	TollAllow         string `json:"toll_allow"`
}

// Trunk is a tenant's outbound carrier signaling path.
type Trunk struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
	Realm    string `json:"realm"`
	Proxy    string `json:"proxy"`
	Register bool   `json:"register"`
}

// Tenant is one independently routed store: its extensions, ring group,
// inbound numbers, outbound trunk, and parking lot.
type Tenant struct {
	// Domain is the tenant's unique domain-like identity, e.g. "store1.local".
	Domain string `json:"domain"`

	// Name is the human-readable label used on directory entries.
	Name string `json:"name"`

	// Context is the signaling context assigned to the tenant's phones.
	Context string `json:"context"`

	// Extensions lists the tenant's local extension identifiers.
	Extensions []string `json:"extensions"`

	// RingGroup is the ordered subset of extensions rung for inbound calls.
	RingGroup []string `json:"ring_group"`

	// DIDs holds the raw inbound number variants that resolve to this tenant.
	DIDs []string `json:"dids"`

	// Trunk is the outbound carrier gateway.
	Trunk Trunk `json:"trunk"`

	// CallerID is the number presented on outbound calls.
	CallerID string `json:"caller_id"`

	// ParkSlots is the tenant's parking lot: slot identifiers valid in the
	// lot named after the tenant's domain.
	ParkSlots []string `json:"park_slots"`

	// Users maps extension identifier to device account.
	Users map[string]User `json:"users"`
}

// HasExtension reports whether ext is one of the tenant's local extensions.
func (t *Tenant) HasExtension(ext string) bool {
	for _, e := range t.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Directory is the read-only tenant index. All lookup maps are built once
// by New and never mutated.
type Directory struct {
	tenants   []*Tenant
	byDomain  map[string]*Tenant
	byContext map[string]*Tenant
	byDID     map[string]*Tenant
	parkSlots map[string]bool
	fallback  *Tenant
	logger    *slog.Logger
}

// New builds a Directory from the tenant list. defaultDomain names the
// tenant used when session resolution fails entirely; empty selects the
// first tenant. Uniqueness of domains, contexts, and DID variants across
// tenants, and of slot identifiers within each tenant's lot, is enforced.
func New(tenants []Tenant, defaultDomain string, logger *slog.Logger) (*Directory, error) {
	if len(tenants) == 0 {
		return nil, fmt.Errorf("directory: no tenants configured")
	}

	d := &Directory{
		byDomain:  make(map[string]*Tenant),
		byContext: make(map[string]*Tenant),
		byDID:     make(map[string]*Tenant),
		parkSlots: make(map[string]bool),
		logger:    logger.With("component", "directory"),
	}

	for i := range tenants {
		t := &tenants[i]
		if t.Domain == "" {
			return nil, fmt.Errorf("directory: tenant %d has no domain", i)
		}
		if _, dup := d.byDomain[t.Domain]; dup {
			return nil, fmt.Errorf("directory: duplicate tenant domain %q", t.Domain)
		}
		d.byDomain[t.Domain] = t

		if t.Context != "" {
			if _, dup := d.byContext[t.Context]; dup {
				return nil, fmt.Errorf("directory: context %q claimed by two tenants", t.Context)
			}
			d.byContext[t.Context] = t
		}

		for _, did := range t.DIDs {
			if owner, dup := d.byDID[did]; dup {
				return nil, fmt.Errorf("directory: DID %q claimed by both %s and %s", did, owner.Domain, t.Domain)
			}
			d.byDID[did] = t
		}

		seen := make(map[string]bool, len(t.ParkSlots))
		for _, slot := range t.ParkSlots {
			if seen[slot] {
				return nil, fmt.Errorf("directory: tenant %s lists park slot %q twice", t.Domain, slot)
			}
			seen[slot] = true
			d.parkSlots[slot] = true
		}

		d.tenants = append(d.tenants, t)
	}

	if defaultDomain != "" {
		t, ok := d.byDomain[defaultDomain]
		if !ok {
			return nil, fmt.Errorf("directory: default tenant %q not configured", defaultDomain)
		}
		d.fallback = t
	} else {
		d.fallback = d.tenants[0]
	}

	return d, nil
}

// Tenants returns all tenants in configuration order.
func (d *Directory) Tenants() []*Tenant {
	return d.tenants
}

// ByDomain looks up a tenant by its domain identity.
func (d *Directory) ByDomain(domain string) (*Tenant, bool) {
	t, ok := d.byDomain[domain]
	return t, ok
}

// ByContext looks up a tenant by its signaling context.
func (d *Directory) ByContext(context string) (*Tenant, bool) {
	t, ok := d.byContext[context]
	return t, ok
}

// IsParkSlot reports whether slot is a parking slot in any tenant's lot.
func (d *Directory) IsParkSlot(slot string) bool {
	return d.parkSlots[slot]
}

// Default returns the fallback tenant used when session resolution fails.
func (d *Directory) Default() *Tenant {
	return d.fallback
}
