// Package types holds the enums and identifier primitives shared by the
// observe/learn/gate components. Component-specific records live with their
// owning component; only values that cross component boundaries belong here.
package types

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RiskLevel classifies how dangerous a skill execution is.
// It drives gate policy selection and default error severity.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// IsValid checks if the risk level value is valid
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskNone, RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Severity returns the default error severity for executions at this risk level.
func (r RiskLevel) Severity() Severity {
	switch r {
	case RiskCritical:
		return SeverityCritical
	case RiskHigh:
		return SeverityHigh
	case RiskMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Severity represents how serious a captured outcome is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Classification buckets an error by its likely root cause.
// The auto-fix template table is keyed by these values.
type Classification string

const (
	ClassSyntax     Classification = "syntax"
	ClassLogic      Classification = "logic"
	ClassAPI        Classification = "api"
	ClassDependency Classification = "dependency"
	ClassTimeout    Classification = "timeout"
	ClassPermission Classification = "permission"
	ClassValidation Classification = "validation"
	ClassNetwork    Classification = "network"
	ClassUnknown    Classification = "unknown"
)

// IsValid checks if the classification value is valid
func (c Classification) IsValid() bool {
	switch c {
	case ClassSyntax, ClassLogic, ClassAPI, ClassDependency, ClassTimeout,
		ClassPermission, ClassValidation, ClassNetwork, ClassUnknown:
		return true
	}
	return false
}

// Route priority tiers. Lower sorts earlier; FALLBACK routes match last.
const (
	PriorityCritical = 0
	PriorityHigh     = 1
	PriorityNormal   = 2
	PriorityLow      = 3
	PriorityFallback = 99
)

// NewID returns a random 12-hex-character token.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:12]
}

// ShortHash returns the first 10 hex characters of the md5 of s.
// Used as the pattern hash for plans and corrections; inputs must be
// canonicalized by the caller before hashing.
func ShortHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:10]
}

// CanonicalJSON serializes v deterministically for hashing. encoding/json
// sorts map keys, which is all the determinism the pattern hash needs.
func CanonicalJSON(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Timestamp formats t as an ISO-8601 string in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
