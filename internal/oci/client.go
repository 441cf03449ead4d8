package oci

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// computeDigest is the fallback when a registry omits the
// Docker-Content-Digest response header.
func computeDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ClientConfig configures a Client's HTTP behavior and security policy.
type ClientConfig struct {
	Insecure             bool
	AllowlistDomains     []string
	Username, Password   string
	Token                string
	Timeout              time.Duration
	MaxRetries           int
	MaxArtifactSizeBytes int64
}

// DefaultTimeout is the OCI operation timeout default.
const DefaultTimeout = 30 * time.Second

// DefaultMaxRetries bounds retryable (5xx/429/timeout) attempts.
const DefaultMaxRetries = 3

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Client talks the minimal Registry HTTP v2 surface CPM needs: manifest
// fetch, one blob fetch, tag listing, and referrers discovery. Built
// directly on net/http rather than a full registry SDK, since CPM only
// ever needs this narrow slice of the registry API.
type Client struct {
	httpClient *http.Client
	cfg        ClientConfig
}

// NewClient builds a Client from cfg.
func NewClient(cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// Manifest is the parsed OCI image manifest (the fields CPM needs).
type Manifest struct {
	SchemaVersion int            `json:"schemaVersion"`
	MediaType     string         `json:"mediaType,omitempty"`
	Layers        []ManifestLayer `json:"layers"`
}

type ManifestLayer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// LayerByMediaType returns the first layer matching mediaType, if any.
func (m Manifest) LayerByMediaType(mediaType string) (ManifestLayer, bool) {
	for _, l := range m.Layers {
		if l.MediaType == mediaType {
			return l, true
		}
	}
	return ManifestLayer{}, false
}

func (c *Client) baseURL(host string) string {
	scheme := "https"
	if c.cfg.Insecure {
		scheme = "http"
	}
	return scheme + "://" + host
}

// ResolveDigest performs one manifest-resolve call for ref and returns the
// manifest digest. For an already digest-pinned ref, it returns the digest
// verbatim without a network call.
func (c *Client) ResolveDigest(ctx context.Context, ref Ref) (string, error) {
	if ref.IsDigestPinned() {
		return ref.Digest, nil
	}
	digest, _, err := c.fetchManifestBytes(ctx, ref, ref.Tag)
	return digest, err
}

// FetchManifest fetches and parses ref's image manifest — one JSON
// document of a few KB, cheap enough to fetch on every resolution.
func (c *Client) FetchManifest(ctx context.Context, ref Ref, reference string) (Manifest, string, error) {
	digest, body, err := c.fetchManifestBytes(ctx, ref, reference)
	if err != nil {
		return Manifest{}, "", err
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return Manifest{}, "", &LookupError{Kind: LookupUpstreamUnavailable, Err: fmt.Errorf("parse manifest: %w", err)}
	}
	return m, digest, nil
}

func (c *Client) fetchManifestBytes(ctx context.Context, ref Ref, reference string) (string, []byte, error) {
	if err := AssertAllowlisted(ref.Host, c.cfg.AllowlistDomains); err != nil {
		return "", nil, err
	}
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", c.baseURL(ref.Host), ref.Repository(), reference)

	var digest string
	var body []byte
	err := c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.oci.image.manifest.v1+json, application/vnd.docker.distribution.manifest.v2+json")
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // retryable: transport/timeout
		}
		defer resp.Body.Close()

		if kind, retryable, ok := classifyStatus(resp.StatusCode); ok {
			lerr := &LookupError{Kind: kind, Err: fmt.Errorf("manifest fetch: HTTP %d", resp.StatusCode)}
			if retryable {
				return lerr
			}
			return backoff.Permanent(lerr)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		digest = resp.Header.Get("Docker-Content-Digest")
		if digest == "" {
			digest = computeDigest(data)
		}
		body = data
		return nil
	})
	if err != nil {
		return "", nil, asLookupError(err)
	}
	return digest, body, nil
}

// FetchBlob fetches exactly one blob by digest — the metadata blob in the
// metadata-only lookup path, or a payload blob during full fetch.
func (c *Client) FetchBlob(ctx context.Context, ref Ref, digest string) ([]byte, error) {
	if err := AssertAllowlisted(ref.Host, c.cfg.AllowlistDomains); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v2/%s/blobs/%s", c.baseURL(ref.Host), ref.Repository(), digest)

	var body []byte
	err := c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if kind, retryable, ok := classifyStatus(resp.StatusCode); ok {
			lerr := &LookupError{Kind: kind, Err: fmt.Errorf("blob fetch: HTTP %d", resp.StatusCode)}
			if retryable {
				return lerr
			}
			return backoff.Permanent(lerr)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if c.cfg.MaxArtifactSizeBytes > 0 && int64(len(data)) > c.cfg.MaxArtifactSizeBytes {
			return backoff.Permanent(&LookupError{Kind: LookupPolicyDenied, Err: fmt.Errorf("blob size %d exceeds limit %d", len(data), c.cfg.MaxArtifactSizeBytes)})
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, asLookupError(err)
	}
	return body, nil
}

// ListTags lists a repository's tags, used by the referrers-discovery
// tag-pattern fallback when a registry has no referrers API.
func (c *Client) ListTags(ctx context.Context, ref Ref) ([]string, error) {
	if err := AssertAllowlisted(ref.Host, c.cfg.AllowlistDomains); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v2/%s/tags/list", c.baseURL(ref.Host), ref.Repository())

	var tags []string
	err := c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.applyAuth(req)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if kind, retryable, ok := classifyStatus(resp.StatusCode); ok {
			lerr := &LookupError{Kind: kind, Err: fmt.Errorf("tags list: HTTP %d", resp.StatusCode)}
			if retryable {
				return lerr
			}
			return backoff.Permanent(lerr)
		}
		var payload struct {
			Tags []string `json:"tags"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return backoff.Permanent(err)
		}
		tags = payload.Tags
		return nil
	})
	if err != nil {
		return nil, asLookupError(err)
	}
	return tags, nil
}

// DiscoverReferrers fetches a digest's referrers via the OCI 1.1 referrers
// API, falling back to a tag-pattern heuristic when the registry returns
// 404/NotImplemented for the referrers endpoint.
func (c *Client) DiscoverReferrers(ctx context.Context, ref Ref, digest string) ([]Referrer, error) {
	if err := AssertAllowlisted(ref.Host, c.cfg.AllowlistDomains); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v2/%s/referrers/%s", c.baseURL(ref.Host), ref.Repository(), digest)

	var referrers []Referrer
	err := c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.applyAuth(req)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNotImplemented {
			referrers = nil
			return backoff.Permanent(errReferrersUnsupported)
		}
		if kind, retryable, ok := classifyStatus(resp.StatusCode); ok {
			lerr := &LookupError{Kind: kind, Err: fmt.Errorf("referrers: HTTP %d", resp.StatusCode)}
			if retryable {
				return lerr
			}
			return backoff.Permanent(lerr)
		}

		var index struct {
			Manifests []struct {
				Digest       string            `json:"digest"`
				ArtifactType string            `json:"artifactType"`
				Annotations  map[string]string `json:"annotations"`
			} `json:"manifests"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
			return backoff.Permanent(err)
		}
		for _, m := range index.Manifests {
			referrers = append(referrers, Referrer{Digest: m.Digest, ArtifactType: m.ArtifactType, Annotations: m.Annotations})
		}
		return nil
	})
	if err == errReferrersUnsupported {
		return c.discoverReferrersFromTags(ctx, ref)
	}
	if err != nil {
		return nil, asLookupError(err)
	}
	return referrers, nil
}

func (c *Client) discoverReferrersFromTags(ctx context.Context, ref Ref) ([]Referrer, error) {
	tags, err := c.ListTags(ctx, ref)
	if err != nil {
		return nil, nil // best-effort heuristic; absence of tags is not fatal
	}
	var out []Referrer
	for _, tag := range tags {
		lowerTag := strings.ToLower(tag)
		switch {
		case strings.HasSuffix(lowerTag, ".sig") || strings.Contains(lowerTag, "cosign"):
			out = append(out, Referrer{Digest: "tag:" + tag, ArtifactType: "application/vnd.dev.cosign.simulated.v1+json", Annotations: map[string]string{"tag": tag}})
		case strings.HasSuffix(lowerTag, ".sbom") || strings.Contains(lowerTag, "sbom") || strings.Contains(lowerTag, "spdx") || strings.Contains(lowerTag, "cyclonedx"):
			out = append(out, Referrer{Digest: "tag:" + tag, ArtifactType: "application/vnd.cpm.sbom.simulated.v1+json", Annotations: map[string]string{"tag": tag}})
		case strings.HasSuffix(lowerTag, ".prov") || strings.Contains(lowerTag, "provenance") || strings.Contains(lowerTag, "slsa"):
			out = append(out, Referrer{Digest: "tag:" + tag, ArtifactType: "application/vnd.cpm.provenance.simulated.v1+json", Annotations: map[string]string{"tag": tag}})
		}
	}
	return out, nil
}

func (c *Client) applyAuth(req *http.Request) {
	switch {
	case c.cfg.Username != "" && c.cfg.Password != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	case c.cfg.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

// doWithRetry retries op with exponential backoff, bounded by
// cfg.MaxRetries. Only RateLimited and UpstreamUnavailable failures reach
// here as retryable; everything else is wrapped in backoff.Permanent by
// the caller.
func (c *Client) doWithRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	bounded := backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries))
	return backoff.Retry(op, backoff.WithContext(bounded, ctx))
}

func classifyStatus(status int) (LookupKind, bool, bool) {
	switch {
	case status == http.StatusOK:
		return "", false, false
	case status == http.StatusNotFound:
		return LookupNotFound, false, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return LookupAuthRequired, false, true
	case status == http.StatusTooManyRequests:
		return LookupRateLimited, true, true
	case status >= 500:
		return LookupUpstreamUnavailable, true, true
	default:
		return LookupUpstreamUnavailable, false, true
	}
}

func asLookupError(err error) error {
	if as, ok := err.(*LookupError); ok {
		return as
	}
	return &LookupError{Kind: LookupUpstreamUnavailable, Err: err}
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errReferrersUnsupported = sentinelError("oci: referrers api unsupported")
