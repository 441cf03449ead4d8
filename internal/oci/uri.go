package oci

import (
	"fmt"
	"strings"
)

// Ref is a parsed OCI source URI: oci://host/repo/name@sha256:<digest> or
// oci://host/repo/name:<alias> or oci://host/repo/name@<semver>
type Ref struct {
	Host   string
	Repo   string // path between host and the final name segment, may be empty
	Name   string
	Digest string // "sha256:<hex>", set iff digest-pinned
	Tag    string // alias or semver, set iff not digest-pinned
}

// IsDigestPinned reports whether the ref already carries a sha256 digest.
func (r Ref) IsDigestPinned() bool {
	return r.Digest != ""
}

// Repository is the registry-path portion used for manifest/blob/tag
// endpoints: "<repo>/<name>" (repo may be empty).
func (r Ref) Repository() string {
	if r.Repo == "" {
		return r.Name
	}
	return r.Repo + "/" + r.Name
}

// String renders the ref back to its oci:// canonical form.
func (r Ref) String() string {
	base := "oci://" + r.Host + "/" + r.Repository()
	if r.IsDigestPinned() {
		return base + "@" + r.Digest
	}
	return base + ":" + r.Tag
}

// WithDigest returns a copy of r pinned to digest, the canonical identity
// used once alias resolution has completed.
func (r Ref) WithDigest(digest string) Ref {
	r2 := r
	r2.Digest = digest
	r2.Tag = ""
	return r2
}

// ParseURI normalizes an "oci://host/repo/name@sha256:<digest>" /
// "oci://host/repo/name:<alias>" / "oci://host/repo/name@<semver>" string.
func ParseURI(uri string) (Ref, error) {
	const prefix = "oci://"
	if !strings.HasPrefix(uri, prefix) {
		return Ref{}, fmt.Errorf("oci: uri %q missing oci:// scheme", uri)
	}
	rest := uri[len(prefix):]
	return parsePathForm(rest)
}

// ParseTwoPart combines a registry base with a "name@version" or
// "name:alias" identifier into a Ref.
func ParseTwoPart(registryBase, nameVersion string) (Ref, error) {
	base := strings.TrimPrefix(registryBase, "oci://")
	base = strings.TrimSuffix(base, "/")
	return parsePathForm(base + "/" + nameVersion)
}

func parsePathForm(rest string) (Ref, error) {
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) < 2 {
		return Ref{}, fmt.Errorf("oci: uri %q missing repository path", rest)
	}
	host := parts[0]
	path := parts[1]

	// The digest/tag identifier is attached to the final path segment.
	lastSlash := strings.LastIndex(path, "/")
	var repoPrefix, last string
	if lastSlash >= 0 {
		repoPrefix = path[:lastSlash]
		last = path[lastSlash+1:]
	} else {
		last = path
	}

	if at := strings.Index(last, "@"); at >= 0 {
		name := last[:at]
		digestOrVersion := last[at+1:]
		if strings.HasPrefix(digestOrVersion, "sha256:") {
			return Ref{Host: host, Repo: repoPrefix, Name: name, Digest: digestOrVersion}, nil
		}
		return Ref{Host: host, Repo: repoPrefix, Name: name, Tag: digestOrVersion}, nil
	}
	if colon := strings.Index(last, ":"); colon >= 0 {
		name := last[:colon]
		alias := last[colon+1:]
		return Ref{Host: host, Repo: repoPrefix, Name: name, Tag: alias}, nil
	}
	return Ref{}, fmt.Errorf("oci: uri segment %q has no @digest, @version, or :alias", last)
}
