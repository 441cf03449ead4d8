// Package oci implements the OCI source resolver: URI normalization,
// metadata-only lookup, lazy payload fetch with digest-keyed CAS, and the
// security/trust checks that gate a fetch.
package oci

import "fmt"

// LookupKind classifies a lookup_metadata failure.
type LookupKind string

const (
	LookupNotFound         LookupKind = "not_found"
	LookupAuthRequired     LookupKind = "auth_required"
	LookupRateLimited      LookupKind = "rate_limited"
	LookupUpstreamUnavailable LookupKind = "upstream_unavailable"
	LookupPolicyDenied     LookupKind = "policy_denied"
	LookupDigestMismatch   LookupKind = "digest_mismatch"
	LookupPathUnsafe       LookupKind = "path_unsafe"
)

// LookupError is returned by lookup_metadata and resolve_and_fetch.
type LookupError struct {
	Kind LookupKind
	Err  error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oci: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("oci: %s", e.Kind)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Retryable reports whether the failure kind warrants a backoff retry.
func (e *LookupError) Retryable() bool {
	switch e.Kind {
	case LookupRateLimited, LookupUpstreamUnavailable:
		return true
	default:
		return false
	}
}

// FetchError wraps a LookupError for resolve_and_fetch's broader failure
// surface (same kinds, plus the fatal ones surfaced during materialization).
type FetchError struct {
	Kind LookupKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("oci: fetch: %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
