// Package mcp exposes CPM's retrieval engine over the Model Context Protocol.
package mcp

import "github.com/cpm-dev/cpm/internal/retrieval"

// QueryInput defines the input parameters for the query tool.
type QueryInput struct {
	// Ref is the oci:// packet reference, alias or digest-pinned.
	Ref string `json:"ref" jsonschema:"required,description=The oci:// packet reference (alias or digest-pinned)"`
	// Q is the natural-language query text.
	Q string `json:"q" jsonschema:"required,description=The natural-language query text"`
	// K is the number of results to return, clamped to [1,20].
	K int `json:"k,omitempty" jsonschema:"minimum=1,maximum=20,default=10,description=Number of results to return"`
}

// QueryOutput contains the retrieval results for a query.
type QueryOutput struct {
	// CacheHit indicates the packet and index were already materialized.
	CacheHit bool `json:"cache_hit"`
	// PinnedURI is the fully digest-pinned packet reference resolved for this query.
	PinnedURI string `json:"pinned_uri"`
	// Digest is the resolved packet digest.
	Digest string `json:"digest"`
	// Results is the ranked list of matching chunks.
	Results []retrieval.Hit `json:"results"`
	// Message provides informational context (e.g., "No matching results found").
	Message string `json:"message,omitempty"`
}

// PlanCandidateInput mirrors retrieval.Candidate over the wire.
type PlanCandidateInput struct {
	// Ref is the candidate packet's oci:// reference.
	Ref string `json:"ref" jsonschema:"required"`
	// Name is the candidate packet's declared name.
	Name string `json:"name"`
	// Kind is a free-form classification used for metadata scoring.
	Kind string `json:"kind,omitempty"`
	// Entrypoints lists the candidate's documented entrypoints.
	Entrypoints []string `json:"entrypoints,omitempty"`
	// Capabilities lists the candidate's documented capabilities.
	Capabilities []string `json:"capabilities,omitempty"`
}

// PlanInput defines the input parameters for the plan_from_intent tool.
type PlanInput struct {
	// Intent is what the caller is trying to accomplish, in free text.
	Intent string `json:"intent" jsonschema:"required,description=What the caller is trying to accomplish"`
	// Candidates are the packets the planner may select among.
	Candidates []PlanCandidateInput `json:"candidates" jsonschema:"required,description=Packets the planner may select among"`
	// ProbeQuery optionally breaks metadata-score ties with one retrieval call per tied candidate.
	ProbeQuery string `json:"probe_query,omitempty"`
	// ProbeK bounds results per probe query when ProbeQuery is set.
	ProbeK int `json:"probe_k,omitempty"`
}

// PlanOutput contains plan_from_intent's selection.
type PlanOutput struct {
	// Intent classifies whether metadata alone sufficed ("lookup") or retrieval was needed ("query").
	Intent string `json:"intent"`
	// Selected is the chosen candidate's ref.
	Selected string `json:"selected"`
	// Fallbacks lists the remaining candidates in descending preference order.
	Fallbacks []string `json:"fallbacks,omitempty"`
	// Message provides informational context.
	Message string `json:"message,omitempty"`
}

// DigestInput defines the input parameters for the digest tool.
type DigestInput struct {
	// Ref is the oci:// packet reference.
	Ref string `json:"ref" jsonschema:"required"`
	// Q is the query text the digest is built from.
	Q string `json:"q" jsonschema:"required"`
	// K bounds how many results are considered before dedup/truncation.
	K int `json:"k,omitempty"`
	// MaxChars truncates the rendered digest; default 1200.
	MaxChars int `json:"max_chars,omitempty" jsonschema:"default=1200"`
}

// DigestOutput contains the deduped, bounded evidence digest.
type DigestOutput struct {
	// Snippets are the deduplicated (path, snippet) hits backing Summary.
	Snippets []retrieval.Hit `json:"snippets"`
	// Summary is the rendered, truncated digest text.
	Summary string `json:"summary"`
}

// StatusInput defines the input parameters for the status tool.
// This tool takes no parameters and reports the local packet cache's health.
type StatusInput struct {
	// No input parameters required
}

// StatusOutput reports the packet cache's health.
type StatusOutput struct {
	// CPMRoot is the cache root being reported on.
	CPMRoot string `json:"cpm_root"`
	// CASWritable indicates whether the content-addressed store accepted a probe write.
	CASWritable bool `json:"cas_writable"`
	// Message provides informational context when unhealthy.
	Message string `json:"message,omitempty"`
}
