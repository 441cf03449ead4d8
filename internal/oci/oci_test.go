package oci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURIDigestPinned(t *testing.T) {
	ref, err := ParseURI("oci://registry.example.com/team/docs@sha256:abc123")
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com", ref.Host)
	assert.Equal(t, "team", ref.Repo)
	assert.Equal(t, "docs", ref.Name)
	assert.True(t, ref.IsDigestPinned())
	assert.Equal(t, "sha256:abc123", ref.Digest)
}

func TestParseURIAlias(t *testing.T) {
	ref, err := ParseURI("oci://registry.example.com/docs:latest")
	require.NoError(t, err)
	assert.False(t, ref.IsDigestPinned())
	assert.Equal(t, "latest", ref.Tag)
	assert.Equal(t, "docs", ref.Repository())
}

func TestParseTwoPart(t *testing.T) {
	ref, err := ParseTwoPart("oci://registry.example.com/", "team/docs@1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", ref.Tag)
	assert.Equal(t, "team/docs", ref.Repository())
}

func TestAssertAllowlistedEmptyAllowsAny(t *testing.T) {
	assert.NoError(t, AssertAllowlisted("anything.example.com", nil))
}

func TestAssertAllowlistedRejectsUnlisted(t *testing.T) {
	err := AssertAllowlisted("evil.example.com", []string{"registry.example.com"})
	require.Error(t, err)
	var lerr *LookupError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, LookupPolicyDenied, lerr.Kind)
}

func TestSafeOutputPathRejectsTraversal(t *testing.T) {
	_, err := SafeOutputPath("/tmp/cas/payload", "../../etc/passwd")
	require.Error(t, err)
	var lerr *LookupError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, LookupPathUnsafe, lerr.Kind)
}

func TestSafeOutputPathRejectsAbsolute(t *testing.T) {
	_, err := SafeOutputPath("/tmp/cas/payload", "/etc/passwd")
	require.Error(t, err)
}

func TestSafeOutputPathAllowsNested(t *testing.T) {
	out, err := SafeOutputPath("/tmp/cas/payload", "docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cas/payload/docs/readme.md", out)
}

func TestEvaluateTrustReportScoring(t *testing.T) {
	referrers := []Referrer{
		{ArtifactType: "application/vnd.dev.cosign.signature"},
		{ArtifactType: "application/spdx+json"},
		{ArtifactType: "application/vnd.in-toto.provenance", Annotations: map[string]string{"slsa": "level 3"}},
	}
	report := EvaluateTrustReport(referrers, false, false, false, false)
	assert.True(t, report.SignatureValid)
	assert.True(t, report.SBOMPresent)
	assert.True(t, report.ProvenancePresent)
	assert.Equal(t, 3, report.SLSALevel)
	assert.InDelta(t, 0.975, report.TrustScore, 1e-9)
}

func TestEvaluateTrustReportStrictFailsClosed(t *testing.T) {
	report := EvaluateTrustReport(nil, true, true, false, false)
	require.Len(t, report.StrictFailures, 1)
}

func TestNormalizeLegacyMetadata(t *testing.T) {
	legacy := legacyPacketMetadataV1{
		Schema:  LegacySchema,
		Name:    "docs",
		Version: "1.0.0",
		Files: []struct {
			Name   string `json:"name"`
			Digest string `json:"digest"`
		}{{Name: "manifest.json", Digest: "sha256:aa"}},
	}
	m := NormalizeLegacy(legacy)
	require.NoError(t, m.Validate())
	assert.Equal(t, MetadataSchema, m.Schema)
	assert.Equal(t, "docs", m.Packet.Name)
}

func TestNormalizeInstallLockSynthesizesSources(t *testing.T) {
	raw := map[string]any{
		"packet_ref":    "registry.example.com/docs@sha256:aa",
		"packet_digest": "sha256:aa",
		"signature":     true,
		"trust_score":   0.7,
	}
	lock := normalizeInstallLock(raw)
	require.Len(t, lock.Sources, 1)
	assert.Equal(t, "oci://registry.example.com/docs@sha256:aa", lock.Sources[0].URI)
	assert.True(t, lock.Sources[0].Signature)
	assert.Equal(t, 0.7, lock.Sources[0].TrustScore)
}
