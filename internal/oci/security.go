package oci

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// AssertAllowlisted rejects hosts not present in allowlist (exact match or
// subdomain). An empty allowlist permits any host.
func AssertAllowlisted(host string, allowlist []string) error {
	if len(allowlist) == 0 {
		return nil
	}
	for _, allowed := range allowlist {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return &LookupError{Kind: LookupPolicyDenied, Err: fmt.Errorf("host %q not in allowlist", host)}
}

// AssertScheme requires https, unless scheme is http and either insecure
// access was explicitly allowed or host is localhost.
func AssertScheme(scheme, host string, allowInsecure bool) error {
	if scheme == "https" {
		return nil
	}
	if scheme == "http" && (allowInsecure || isLocalHost(host)) {
		return nil
	}
	return &LookupError{Kind: LookupPolicyDenied, Err: fmt.Errorf("scheme %q not permitted for host %q", scheme, host)}
}

func isLocalHost(host string) bool {
	h := host
	if idx := strings.Index(h, ":"); idx >= 0 {
		h = h[:idx]
	}
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}

// RedactToken replaces a credential value with a fixed-length placeholder
// so it never reaches a log line verbatim.
func RedactToken(token string) string {
	if token == "" {
		return ""
	}
	return "***REDACTED***"
}

// SafeOutputPath resolves relativePath against baseDir and fails if the
// result escapes baseDir — path traversal ("..") and absolute paths are
// rejected. The check is lexical: symlinks already on disk are not
// resolved. Grounded on
// original_source/cpm_core/oci/security.py's safe_output_path.
func SafeOutputPath(baseDir, relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", &LookupError{Kind: LookupPathUnsafe, Err: fmt.Errorf("path %q is absolute", relativePath)}
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(base, relativePath)
	rel, err := filepath.Rel(base, joined)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &LookupError{Kind: LookupPathUnsafe, Err: fmt.Errorf("path %q escapes extraction root", relativePath)}
	}
	return joined, nil
}

// Referrer is one entry from an OCI registry's referrers listing (or a
// tag-pattern heuristic fallback), used for trust-report evaluation.
type Referrer struct {
	Digest       string
	ArtifactType string
	Annotations  map[string]string
}

var slsaLevelRE = regexp.MustCompile(`(?i)slsa[^0-9]{0,10}(\d)`)

// TrustReport is the outcome of evaluating a packet's referrers against the
// configured trust policy, following original_source's evaluate_trust_report.
type TrustReport struct {
	SignatureValid   bool
	SBOMPresent      bool
	ProvenancePresent bool
	SLSALevel        int
	TrustScore       float64
	StrictFailures   []string
}

// EvaluateTrustReport scores referrers and, when strict is true, records
// which required attestations are missing as StrictFailures — a non-empty
// StrictFailures under strict mode means the fetch must fail closed.
func EvaluateTrustReport(referrers []Referrer, strict, requireSignature, requireSBOM, requireProvenance bool) TrustReport {
	var report TrustReport
	for _, r := range referrers {
		switch {
		case isSignatureReferrer(r):
			report.SignatureValid = true
		case isSBOMReferrer(r):
			report.SBOMPresent = true
		case isProvenanceReferrer(r):
			report.ProvenancePresent = true
		}
		if level := resolveSLSALevel(r); level > report.SLSALevel {
			report.SLSALevel = level
		}
	}

	report.TrustScore = 0
	if report.SignatureValid {
		report.TrustScore += 0.5
	}
	if report.SBOMPresent {
		report.TrustScore += 0.2
	}
	if report.ProvenancePresent {
		report.TrustScore += 0.2
	}
	if report.SLSALevel > 0 {
		bonus := float64(report.SLSALevel) * 0.025
		if bonus > 0.1 {
			bonus = 0.1
		}
		report.TrustScore += bonus
	}

	if strict {
		if requireSignature && !report.SignatureValid {
			report.StrictFailures = append(report.StrictFailures, "signature required but not present")
		}
		if requireSBOM && !report.SBOMPresent {
			report.StrictFailures = append(report.StrictFailures, "sbom required but not present")
		}
		if requireProvenance && !report.ProvenancePresent {
			report.StrictFailures = append(report.StrictFailures, "provenance required but not present")
		}
	}
	return report
}

func isSignatureReferrer(r Referrer) bool {
	t := strings.ToLower(r.ArtifactType)
	return strings.Contains(t, "cosign") || strings.Contains(t, "signature") || strings.Contains(t, ".sig")
}

func isSBOMReferrer(r Referrer) bool {
	t := strings.ToLower(r.ArtifactType)
	return strings.Contains(t, "sbom") || strings.Contains(t, "spdx") || strings.Contains(t, "cyclonedx")
}

func isProvenanceReferrer(r Referrer) bool {
	t := strings.ToLower(r.ArtifactType)
	return strings.Contains(t, "provenance") || strings.Contains(t, "slsa")
}

func resolveSLSALevel(r Referrer) int {
	fields := []string{r.ArtifactType}
	for k, v := range r.Annotations {
		fields = append(fields, k+"="+v)
	}
	best := 0
	for _, f := range fields {
		m := slsaLevelRE.FindStringSubmatch(f)
		if m == nil {
			continue
		}
		if level, err := strconv.Atoi(m[1]); err == nil && level > best {
			best = level
		}
	}
	return best
}
