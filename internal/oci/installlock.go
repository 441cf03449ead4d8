package oci

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// InstallSource is one provenance entry of an install lock, either written
// directly by a current install or synthesized from a legacy lock's flat
// packet_ref/packet_digest fields.
type InstallSource struct {
	URI        string  `json:"uri"`
	Digest     string  `json:"digest"`
	Signature  bool    `json:"signature"`
	SBOM       bool    `json:"sbom"`
	Provenance bool    `json:"provenance"`
	TrustScore float64 `json:"trust_score"`
}

// InstallLock records how a packet currently installed in a workspace was
// obtained, for `cpm install status` reporting.
type InstallLock struct {
	PacketRef    string          `json:"packet_ref,omitempty"`
	PacketDigest string          `json:"packet_digest,omitempty"`
	Sources      []InstallSource `json:"sources"`
	TrustScore   float64         `json:"trust_score"`
}

// InstallLockPath is where a packet's install lock lives under a workspace
// root, grounded on install_state.py's install_lock_path.
func InstallLockPath(workspaceRoot, packetName string) string {
	return filepath.Join(workspaceRoot, "state", "install", packetName+".lock.json")
}

// ReadInstallLock reads and normalizes packetName's install lock, returning
// ok=false if no lock file exists or it cannot be parsed as a JSON object.
func ReadInstallLock(workspaceRoot, packetName string) (InstallLock, bool) {
	path := InstallLockPath(workspaceRoot, packetName)
	data, err := os.ReadFile(path)
	if err != nil {
		return InstallLock{}, false
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return InstallLock{}, false
	}
	return normalizeInstallLock(raw), true
}

// WriteInstallLock persists packetName's install lock under workspaceRoot.
func WriteInstallLock(workspaceRoot, packetName string, lock InstallLock) (string, error) {
	path := InstallLockPath(workspaceRoot, packetName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// normalizeInstallLock upgrades a pre-multi-source install lock (a flat
// packet_ref/packet_digest/signature/sbom/provenance/trust_score shape) into
// the current sources-list shape, grounded on install_state.py's
// _normalize_install_lock.
func normalizeInstallLock(raw map[string]any) InstallLock {
	lock := InstallLock{
		PacketRef:    stringField(raw, "packet_ref"),
		PacketDigest: stringField(raw, "packet_digest"),
		TrustScore:   floatField(raw, "trust_score"),
	}

	if sourcesRaw, ok := raw["sources"].([]any); ok {
		for _, s := range sourcesRaw {
			m, ok := s.(map[string]any)
			if !ok {
				continue
			}
			lock.Sources = append(lock.Sources, InstallSource{
				URI:        stringField(m, "uri"),
				Digest:     stringField(m, "digest"),
				Signature:  boolField(m, "signature"),
				SBOM:       boolField(m, "sbom"),
				Provenance: boolField(m, "provenance"),
				TrustScore: floatField(m, "trust_score"),
			})
		}
		return lock
	}

	if lock.PacketRef != "" && lock.PacketDigest != "" {
		lock.Sources = []InstallSource{{
			URI:        "oci://" + lock.PacketRef,
			Digest:     lock.PacketDigest,
			Signature:  boolField(raw, "signature"),
			SBOM:       boolField(raw, "sbom"),
			Provenance: boolField(raw, "provenance"),
			TrustScore: lock.TrustScore,
		}}
	}
	return lock
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolField(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func floatField(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
