// Package params provides the remote configuration the core reads on every
// use. Values are loaded from a Source into an immutable Snapshot and the
// Provider swaps in a new Snapshot on each refresh.
package params

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrConfigUnavailable is returned when no usable snapshot could be loaded.
var ErrConfigUnavailable = errors.New("configuration unavailable")

// Set of parameter keys, relative to the root of the hierarchy.
const (
	KeyUserIDSalt            = "secrets/user_id_salt"
	KeyCarvingIDSalt         = "secrets/carving_id_salt"
	KeyAdminKey              = "secrets/admin_key"
	KeyPrivateKeyHandle      = "secrets/private_key_handle"
	KeyContractAddress       = "config/contract_address"
	KeyMaxIndexFailures      = "config/max_index_failures"
	KeyMaxAllocationAttempts = "config/max_allocation_attempts"
	KeyCarvingLengthLimit    = "config/carving_length_limit"
	KeyFromToLimit           = "config/carving_from_to_limit"
	KeyRefreshInterval       = "config/ssm_refresh_interval"
	KeyLookupRateLimit       = "config/lookup_rate_limit"
	KeyOperatorEmail         = "config/operator_email"
	KeyTemplateCreated       = "config/template_carving_created"
	KeyTemplateLookup        = "config/template_carving_lookup"
	KeyTemplateAlert         = "config/template_write_failed"
)

// Snapshot is an immutable view of the configuration at a point in time.
type Snapshot struct {
	UserIDSalt            string
	CarvingIDSalt         string
	AdminKey              string
	PrivateKeyHandle      string
	ContractAddress       string
	MaxIndexFailures      int
	MaxAllocationAttempts int
	CarvingLengthLimit    int
	FromToLimit           int
	RefreshInterval       time.Duration
	LookupRateLimit       int
	OperatorEmail         string
	TemplateCreated       string
	TemplateLookup        string
	TemplateAlert         string
	LoadedAt              time.Time
}

// Parse builds a Snapshot from the flattened key/value form a Source
// returns. Salts and the admin key are required, everything else falls
// back to a default.
func Parse(values map[string]string) (Snapshot, error) {
	snap := Snapshot{
		UserIDSalt:       values[KeyUserIDSalt],
		CarvingIDSalt:    values[KeyCarvingIDSalt],
		AdminKey:         values[KeyAdminKey],
		PrivateKeyHandle: values[KeyPrivateKeyHandle],
		ContractAddress:  values[KeyContractAddress],
		OperatorEmail:    values[KeyOperatorEmail],
		TemplateCreated:  withDefault(values[KeyTemplateCreated], "carving_created"),
		TemplateLookup:   withDefault(values[KeyTemplateLookup], "carving_lookup"),
		TemplateAlert:    withDefault(values[KeyTemplateAlert], "write_failed"),
		LoadedAt:         time.Now().UTC(),
	}

	for _, req := range []struct{ key, val string }{
		{KeyUserIDSalt, snap.UserIDSalt},
		{KeyCarvingIDSalt, snap.CarvingIDSalt},
		{KeyAdminKey, snap.AdminKey},
	} {
		if req.val == "" {
			return Snapshot{}, fmt.Errorf("missing required parameter %q", req.key)
		}
	}

	ints := []struct {
		key  string
		dst  *int
		def  int
		desc string
	}{
		{KeyMaxIndexFailures, &snap.MaxIndexFailures, 10, "max index failures"},
		{KeyMaxAllocationAttempts, &snap.MaxAllocationAttempts, 1000, "max allocation attempts"},
		{KeyCarvingLengthLimit, &snap.CarvingLengthLimit, 280, "carving length limit"},
		{KeyFromToLimit, &snap.FromToLimit, 40, "from/to limit"},
		{KeyLookupRateLimit, &snap.LookupRateLimit, 5, "lookup rate limit"},
	}

	for _, i := range ints {
		n, err := intValue(values, i.key, i.def)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%s: %w", i.desc, err)
		}
		*i.dst = n
	}

	secs, err := intValue(values, KeyRefreshInterval, 300)
	if err != nil {
		return Snapshot{}, fmt.Errorf("refresh interval: %w", err)
	}
	snap.RefreshInterval = time.Duration(secs) * time.Second

	return snap, nil
}

// =============================================================================

func intValue(values map[string]string, key string, def int) (int, error) {
	s, exists := values[key]
	if !exists || s == "" {
		return def, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %q: %w", key, err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("parameter %q must be positive, got %d", key, n)
	}

	return n, nil
}

func withDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
