package directory

import "strings"

// VariableSource exposes the signaling variables of a call connection. The
// per-call control connection satisfies it.
type VariableSource interface {
	Variable(name string) string
}

// Normalize reduces a raw phone-number representation to its bare digits,
// dropping punctuation and a leading country code. Empty input yields "".
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}

// FormatOutbound renders a dialed number in E.164 form for the carrier:
// ten digits gain the "+1" country prefix, anything else is prefixed "+".
func FormatOutbound(raw string) string {
	digits := Normalize(raw)
	if len(digits) == 10 {
		return "+1" + digits
	}
	return "+" + digits
}

// didVariants returns the candidate index keys for a dialed number, in the
// fixed order that makes DID resolution deterministic: the raw string, the
// normalized form, and the normalized form with "1" and "+1" prefixes.
func didVariants(called string) []string {
	normalized := Normalize(called)
	return []string{called, normalized, "1" + normalized, "+1" + normalized}
}

// ResolveByDID maps a dialed number to the tenant owning it, trying each
// representation variant in order. Returns false when no tenant claims the
// number in any form.
func (d *Directory) ResolveByDID(called string) (*Tenant, bool) {
	for _, key := range didVariants(called) {
		if t, ok := d.byDID[key]; ok {
			return t, true
		}
	}
	return nil, false
}

// Session variable names consulted for tenant resolution, in preference
// order. The first three are domain-valued, the last two context-valued.
const (
	varDomainName   = "variable_domain_name"
	varSIPAuthRealm = "variable_sip_auth_realm"
	varSIPFromHost  = "variable_sip_from_host"
	varUserContext  = "variable_user_context"
	varCallContext  = "Caller-Context"
)

// ResolveForSession determines a call connection's originating tenant from
// whichever identifying variables are present, in fixed preference order.
// Resolution never fails: when nothing matches, the configured default
// tenant is returned and the failure is logged, so routing degrades instead
// of aborting.
func (d *Directory) ResolveForSession(src VariableSource) *Tenant {
	if v := src.Variable(varDomainName); v != "" {
		if t, ok := d.byDomain[v]; ok {
			return t
		}
	}
	if v := src.Variable(varSIPAuthRealm); v != "" {
		if t, ok := d.byDomain[v]; ok {
			return t
		}
	}
	if v := src.Variable(varSIPFromHost); v != "" {
		if t, ok := d.byDomain[v]; ok {
			return t
		}
	}
	if v := src.Variable(varUserContext); v != "" {
		if t, ok := d.byContext[v]; ok {
			return t
		}
	}
	if v := src.Variable(varCallContext); v != "" {
		if t, ok := d.byContext[v]; ok {
			return t
		}
	}

	d.logger.Warn("session resolution failed, using default tenant",
		"default", d.fallback.Domain,
		"domain_name", src.Variable(varDomainName),
		"sip_auth_realm", src.Variable(varSIPAuthRealm),
		"sip_from_host", src.Variable(varSIPFromHost),
		"user_context", src.Variable(varUserContext),
		"caller_context", src.Variable(varCallContext),
	)
	return d.fallback
}
