package oci

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// DefaultAliasCacheTTL is how long a resolved alias->digest mapping is
// trusted before re-resolution.
const DefaultAliasCacheTTL = 900 * time.Second

// AliasCacheEntry is one cached alias->digest resolution.
type AliasCacheEntry struct {
	Digest    string    `json:"digest"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Expired reports whether the entry is older than ttl as of now.
func (e AliasCacheEntry) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.ResolvedAt) > ttl
}

// CASPolicy bundles the trust-policy knobs gating materialization.
type CASPolicy struct {
	Strict            bool
	RequireSignature  bool
	RequireSBOM       bool
	RequireProvenance bool
}

// CAS materializes digest-addressed payload directories under an
// oci.Layout-rooted CPM_ROOT, guarded by per-digest advisory locks so
// concurrent resolve_and_fetch calls for the same digest never race.
type CAS struct {
	Client *Client
	Root   string // CPM_ROOT
	Policy CASPolicy
}

func (c *CAS) casDir(digest string) string {
	return filepath.Join(c.Root, "cas", sanitizeDigest(digest))
}

func (c *CAS) payloadDir(digest string) string {
	return filepath.Join(c.casDir(digest), "payload")
}

func (c *CAS) metaDir(digest string) string {
	return filepath.Join(c.Root, "meta", sanitizeDigest(digest))
}

func (c *CAS) lockPath(digest string) string {
	return filepath.Join(c.Root, "cas", sanitizeDigest(digest)+".lock")
}

func sanitizeDigest(digest string) string {
	out := make([]byte, 0, len(digest))
	for i := 0; i < len(digest); i++ {
		if digest[i] == ':' {
			out = append(out, '_')
			continue
		}
		out = append(out, digest[i])
	}
	return string(out)
}

// Has reports whether digest is already materialized, the cache-hit
// short-circuit of resolve_and_fetch.
func (c *CAS) Has(digest string) bool {
	info, err := os.Stat(c.payloadDir(digest))
	return err == nil && info.IsDir()
}

// PayloadPath returns the materialized payload directory for digest.
func (c *CAS) PayloadPath(digest string) string {
	return c.payloadDir(digest)
}

// Materialize ensures digest's payload exists locally, pulling it from ref's
// registry under an advisory per-digest lock if not already cached. layers
// is the full manifest layer list to pull.
func (c *CAS) Materialize(ctx context.Context, ref Ref, digest string, layers []ManifestLayer) (string, error) {
	if c.Has(digest) {
		return c.payloadDir(digest), nil
	}

	if err := os.MkdirAll(filepath.Join(c.Root, "cas"), 0o755); err != nil {
		return "", err
	}
	lock := flock.New(c.lockPath(digest))
	locked, err := lock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return "", &FetchError{Kind: LookupUpstreamUnavailable, Err: fmt.Errorf("acquire cas lock: %w", err)}
	}
	if !locked {
		if locked, err = lock.TryLockContext(ctx, 200*time.Millisecond); err != nil || !locked {
			if err == nil {
				err = fmt.Errorf("lock not acquired")
			}
			return "", &FetchError{Kind: LookupUpstreamUnavailable, Err: fmt.Errorf("wait for cas lock: %w", err)}
		}
	}
	defer lock.Unlock()

	// Another writer may have finished while we waited for the lock.
	if c.Has(digest) {
		return c.payloadDir(digest), nil
	}

	if c.Policy.Strict {
		referrers, rerr := c.Client.DiscoverReferrers(ctx, ref, digest)
		if rerr != nil {
			return "", &FetchError{Kind: LookupUpstreamUnavailable, Err: rerr}
		}
		report := EvaluateTrustReport(referrers, c.Policy.Strict, c.Policy.RequireSignature, c.Policy.RequireSBOM, c.Policy.RequireProvenance)
		if len(report.StrictFailures) > 0 {
			return "", &FetchError{Kind: LookupPolicyDenied, Err: fmt.Errorf("trust policy failed: %v", report.StrictFailures)}
		}
	}

	staging, err := os.MkdirTemp(filepath.Join(c.Root, "cas"), "staging-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)

	for _, layer := range layers {
		blob, err := c.Client.FetchBlob(ctx, ref, layer.Digest)
		if err != nil {
			return "", &FetchError{Kind: LookupUpstreamUnavailable, Err: err}
		}
		if computeDigest(blob) != layer.Digest {
			return "", &FetchError{Kind: LookupDigestMismatch, Err: fmt.Errorf("layer %s failed digest verification", layer.Digest)}
		}

		switch layer.MediaType {
		case MetadataBlobMediaType:
			meta, err := ParseMetadataBlob(blob)
			if err != nil {
				return "", &FetchError{Kind: LookupUpstreamUnavailable, Err: err}
			}
			if err := writeMetaManifest(c.metaDir(digest), meta); err != nil {
				return "", err
			}
		case PayloadArchiveMediaType:
			if err := extractPayloadArchive(blob, staging); err != nil {
				return "", &FetchError{Kind: LookupPathUnsafe, Err: err}
			}
		default:
			outPath, err := SafeOutputPath(staging, sanitizeDigest(layer.Digest))
			if err != nil {
				return "", &FetchError{Kind: LookupPathUnsafe, Err: err}
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return "", err
			}
			if err := os.WriteFile(outPath, blob, 0o644); err != nil {
				return "", err
			}
		}
	}

	dest := c.payloadDir(digest)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(staging, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// writeMetaManifest persists the normalized metadata blob for digest at
// metaDir/packet.manifest.json, atomically.
func writeMetaManifest(metaDir string, meta PacketMetadata) error {
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(metaDir, "packet.manifest.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadAliasCache reads the cached alias->digest resolution for ref, if any.
func ReadAliasCache(root string, ref Ref) (AliasCacheEntry, bool) {
	path := aliasCachePath(root, ref)
	data, err := os.ReadFile(path)
	if err != nil {
		return AliasCacheEntry{}, false
	}
	var entry AliasCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return AliasCacheEntry{}, false
	}
	return entry, true
}

// WriteAliasCache persists ref's resolved digest, atomically.
func WriteAliasCache(root string, ref Ref, digest string, now time.Time) error {
	path := aliasCachePath(root, ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(AliasCacheEntry{Digest: digest, ResolvedAt: now})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func aliasCachePath(root string, ref Ref) string {
	key := sanitizeDigest(ref.Host + "_" + ref.Repository() + "_" + ref.Tag)
	return filepath.Join(root, "cache", "metadata_alias", key+".json")
}
