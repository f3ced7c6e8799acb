// Package tenant provides tenant identity validation and NATS subject
// scoping. Every store query and every cycle batch is tenant-scoped;
// this package is the single place that decides what a tenant ID may
// look like and how it is embedded in transport subjects.
package tenant

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// MaxIDLength bounds tenant identifiers. Also keeps NATS subjects short.
const MaxIDLength = 64

// Common errors.
var (
	ErrInvalidTenantID = errors.New("invalid tenant ID")
)

// idPattern allows lowercase alphanumerics, underscore, and hyphen. Dots
// are excluded: a tenant ID becomes one NATS subject token.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateID checks that id is usable as a tenant identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTenantID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidTenantID, MaxIDLength)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must be lowercase alphanumeric with _ or -", ErrInvalidTenantID, id)
	}
	return nil
}

// Sanitize lowercases s and strips every character a tenant ID cannot
// carry, returning "local" when nothing survives.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	out := strings.TrimLeft(b.String(), "_-")
	if out == "" {
		return "local"
	}
	if len(out) > MaxIDLength {
		out = out[:MaxIDLength]
	}
	return out
}

// DefaultID returns the tenant ID for single-tenant deployments.
// Priority: $BRAIND_TENANT, then $USER, then "local".
func DefaultID() string {
	if t := os.Getenv("BRAIND_TENANT"); t != "" {
		return Sanitize(t)
	}
	if u := os.Getenv("USER"); u != "" {
		return Sanitize(u)
	}
	return "local"
}

// Subject builds the per-tenant NATS subject prefix.tenantID.
func Subject(prefix, tenantID string) string {
	return prefix + "." + tenantID
}

// FromSubject extracts the tenant ID from a per-tenant subject. Returns
// an error when the subject does not match prefix.<tenant>.
func FromSubject(prefix, subject string) (string, error) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || rest == "" {
		return "", fmt.Errorf("subject %q does not match prefix %q", subject, prefix)
	}
	// Only the immediate token: deeper levels are not tenant IDs.
	if strings.Contains(rest, ".") {
		return "", fmt.Errorf("subject %q carries extra tokens after the tenant", subject)
	}
	if err := ValidateID(rest); err != nil {
		return "", err
	}
	return rest, nil
}
