// Package settings resolves scoped configuration values such as a
// project's domain verification flags.
package settings

import (
	"context"
	"strings"
)

// Scope names used by the delivery service.
const (
	ScopeProject      = "project"
	ScopeOrganization = "organization"
)

// Keys read by the readiness scorer.
const (
	KeySPFVerified           = "email.spf_verified"
	KeyDKIMVerified          = "email.dkim_verified"
	KeyDMARCVerified         = "email.dmarc_verified"
	KeyUnsubscribeCompliance = "email.unsubscribe_compliance"
)

// Lookup returns the raw value stored for (scope, scopeID, key).
// found is false when no value is set.
type Lookup interface {
	GetSetting(ctx context.Context, scope, scopeID, key string) (value string, found bool, err error)
}

// Writer stores a value for (scope, scopeID, key).
type Writer interface {
	PutSetting(ctx context.Context, scope, scopeID, key, value string) error
}

// Truthy interprets a stored flag. "true", "1", "yes" and "verified" are set.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "verified":
		return true
	}
	return false
}

// Flag reads a boolean setting. Any lookup failure is reported as false
// together with the error so callers may choose to ignore it.
func Flag(ctx context.Context, l Lookup, scope, scopeID, key string) (bool, error) {
	v, ok, err := l.GetSetting(ctx, scope, scopeID, key)
	if err != nil || !ok {
		return false, err
	}
	return Truthy(v), nil
}
