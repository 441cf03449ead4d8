package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// DefaultMaxChars is the evidence digest's default truncation length.
const DefaultMaxChars = 1200

// EvidenceDigest is the result of running query, deduping by (path,
// snippet), and truncating the concatenation to maxChars.
type EvidenceDigest struct {
	Snippets []Hit
	Summary  string
}

// Digest runs a query and reduces its results to a deterministic, bounded
// evidence digest.
func (e *Engine) Digest(ctx context.Context, ref, q string, k, maxChars int) (EvidenceDigest, error) {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	result, err := e.Query(ctx, ref, q, k)
	if err != nil {
		return EvidenceDigest{}, err
	}

	seen := make(map[string]bool, len(result.Results))
	deduped := make([]Hit, 0, len(result.Results))
	for _, h := range result.Results {
		key := h.Path + "\x00" + h.Snippet
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, h)
	}

	var b strings.Builder
	for _, h := range deduped {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(h.Snippet)
		if b.Len() >= maxChars {
			break
		}
	}
	truncated := b.String()
	if len(truncated) > maxChars {
		truncated = truncated[:maxChars]
	}

	summary := fmt.Sprintf("%d snippet(s) from %d result(s) for %q", len(deduped), len(result.Results), q)
	return EvidenceDigest{Snippets: deduped, Summary: summary + "\n" + truncated}, nil
}
