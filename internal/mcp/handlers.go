package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cpm-dev/cpm/internal/retrieval"
)

// makeQueryHandler creates the query tool handler.
// Query flow:
// 1. Resolve ref (alias or digest-pinned) against the CPM_ROOT cache
// 2. Materialize the packet payload from OCI if not already cached
// 3. Ensure a search index exists for the query-time embedder's fingerprint
// 4. Embed q and return the top-k nearest chunks
func makeQueryHandler(engine *retrieval.Engine) func(
	context.Context, *mcp.CallToolRequest, QueryInput,
) (*mcp.CallToolResult, QueryOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input QueryInput) (
		*mcp.CallToolResult, QueryOutput, error,
	) {
		result, err := engine.Query(ctx, input.Ref, input.Q, input.K)
		if err != nil {
			return nil, QueryOutput{}, fmt.Errorf("query failed: %w", err)
		}

		out := QueryOutput{
			CacheHit:  result.CacheHit,
			PinnedURI: result.PinnedURI,
			Digest:    result.Digest,
			Results:   result.Results,
		}
		if len(out.Results) == 0 {
			out.Message = "No matching results found. Try a broader query."
		}
		return nil, out, nil
	}
}

// makePlanHandler creates the plan_from_intent tool handler.
// Scores candidates by metadata alone; only probes the engine when the top
// score is tied across more than one candidate and a probe_query is given.
func makePlanHandler(engine *retrieval.Engine) func(
	context.Context, *mcp.CallToolRequest, PlanInput,
) (*mcp.CallToolResult, PlanOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PlanInput) (
		*mcp.CallToolResult, PlanOutput, error,
	) {
		candidates := make([]retrieval.Candidate, len(input.Candidates))
		for i, c := range input.Candidates {
			candidates[i] = retrieval.Candidate{
				Ref:          c.Ref,
				Name:         c.Name,
				Kind:         c.Kind,
				Entrypoints:  c.Entrypoints,
				Capabilities: c.Capabilities,
			}
		}

		result, err := engine.PlanFromIntent(ctx, input.Intent, candidates, input.ProbeQuery, input.ProbeK)
		if err != nil {
			return nil, PlanOutput{}, fmt.Errorf("plan_from_intent failed: %w", err)
		}

		out := PlanOutput{
			Intent:    string(result.Intent),
			Selected:  result.Selected,
			Fallbacks: result.Fallbacks,
		}
		if out.Selected == "" {
			out.Message = "No candidates supplied."
		}
		return nil, out, nil
	}
}

// makeDigestHandler creates the digest tool handler.
// Runs query, dedupes by (path, snippet), and truncates to max_chars.
func makeDigestHandler(engine *retrieval.Engine) func(
	context.Context, *mcp.CallToolRequest, DigestInput,
) (*mcp.CallToolResult, DigestOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DigestInput) (
		*mcp.CallToolResult, DigestOutput, error,
	) {
		digest, err := engine.Digest(ctx, input.Ref, input.Q, input.K, input.MaxChars)
		if err != nil {
			return nil, DigestOutput{}, fmt.Errorf("digest failed: %w", err)
		}
		return nil, DigestOutput{Snippets: digest.Snippets, Summary: digest.Summary}, nil
	}
}

// makeStatusHandler creates the status tool handler.
// Reports whether CPM_ROOT's content-addressed store accepts writes, which
// is the cheapest signal that the local packet cache is usable.
func makeStatusHandler(engine *retrieval.Engine) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		root := engine.Layout.Root
		probe := filepath.Join(root, ".mcp-status-probe")
		writable := true
		message := ""
		if err := os.MkdirAll(root, 0o755); err != nil {
			writable = false
			message = err.Error()
		} else if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
			writable = false
			message = err.Error()
		} else {
			_ = os.Remove(probe)
		}

		return nil, StatusOutput{
			CPMRoot:     root,
			CASWritable: writable,
			Message:     message,
		}, nil
	}
}
