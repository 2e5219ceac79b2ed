package directory

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a tenant list from a JSON file. The file holds an array of
// Tenant objects; the directory built from it stays point-in-time consistent
// for the process lifetime.
func LoadFile(path string) ([]Tenant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tenants file: %w", err)
	}
	var tenants []Tenant
	if err := json.Unmarshal(data, &tenants); err != nil {
		return nil, fmt.Errorf("parsing tenants file %s: %w", path, err)
	}
	return tenants, nil
}

// Builtin returns the compiled-in tenant set used when no tenants file is
// configured.
func Builtin() []Tenant {
	parkSlots := []string{"700", "701", "702", "703", "704", "705", "706", "707", "708", "709"}

	return []Tenant{
		{
			Domain:     "store1.local",
			Name:       "Store 1",
			Context:    "store1",
			Extensions: []string{"1000", "1001"},
			RingGroup:  []string{"1000", "1001"},
			DIDs:       []string{"7577828734", "+17577828734"},
			Trunk: Trunk{
				Name:     "telnyx_store1",
				Username: "testarrellio",
				Password: "12345678",
				Realm:    "sip.telnyx.com",
				Proxy:    "sip.telnyx.com",
				Register: true,
			},
			CallerID:  "+17577828734",
			ParkSlots: parkSlots,
			Users: map[string]User{
				"1000": {Password: "123456", VoicemailPassword: "1000", Name: "Store 1 - Ext 1000", TollAllow: "domestic,international,local"},
				"1001": {Password: "123456", VoicemailPassword: "1001", Name: "Store 1 - Ext 1001", TollAllow: "domestic,international,local"},
			},
		},
		{
			Domain:     "store2.local",
			Name:       "Store 2",
			Context:    "store2",
			Extensions: []string{"1000", "1001"},
			RingGroup:  []string{"1000", "1001"},
			DIDs:       []string{"7372449688", "+17372449688"},
			Trunk: Trunk{
				Name:     "telnyx_store2",
				Username: "1009",
				Password: "12345678",
				Realm:    "sip.telnyx.com",
				Proxy:    "sip.telnyx.com",
				Register: true,
			},
			CallerID:  "+17372449688",
			ParkSlots: parkSlots,
			Users: map[string]User{
				"1000": {Password: "123456", VoicemailPassword: "1000", Name: "Store 2 - Ext 1000", TollAllow: "domestic,international,local"},
				"1001": {Password: "123456", VoicemailPassword: "1001", Name: "Store 2 - Ext 1001", TollAllow: "domestic,international,local"},
			},
		},
	}
}
