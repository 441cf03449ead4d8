package embedding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/cpm-dev/cpm/internal/packet"
)

// DefaultBatchSize bounds how many texts one request carries.
const DefaultBatchSize = 500

// DefaultMaxRetries is the embedding client's default retry budget for
// 5xx/timeout responses.
const DefaultMaxRetries = 2

// DefaultRequestTimeout is the per-request timeout for embedding calls.
const DefaultRequestTimeout = 10 * time.Second

// NormalizeMode selects how query/document vectors are normalized.
type NormalizeMode string

const (
	NormalizeServer NormalizeMode = "server"
	NormalizeClient NormalizeMode = "client"
	NormalizeAuto   NormalizeMode = "auto"
)

// autoNormalizeEpsilon is the deviation-from-unit-norm threshold that
// triggers client-side normalization under NormalizeAuto.
const autoNormalizeEpsilon = 1e-3

// Hints carries the embedding request's semantic metadata, sent as
// X-Embedding-* headers; Dim is also sent as the request body's dimensions
// field.
type Hints struct {
	Dim       int
	Normalize NormalizeMode
	Task      string
	Model     string
}

// Embedder batches, retries, and normalizes calls to an OpenAI-compatible
// embeddings ingress.
type Embedder struct {
	client     *Client
	model      string
	batchSize  int
	maxRetries int
	timeout    time.Duration
}

// Option configures an Embedder.
type Option func(*Embedder)

func WithBatchSize(n int) Option { return func(e *Embedder) { e.batchSize = n } }
func WithMaxRetries(n int) Option { return func(e *Embedder) { e.maxRetries = n } }
func WithTimeout(d time.Duration) Option { return func(e *Embedder) { e.timeout = d } }

// NewEmbedder constructs an Embedder bound to model, applying defaults for
// any unset Option.
func NewEmbedder(client *Client, model string, opts ...Option) *Embedder {
	e := &Embedder{
		client:     client,
		model:      model,
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.batchSize <= 0 {
		e.batchSize = DefaultBatchSize
	}
	return e
}

// Model returns the embedder's bound model id.
func (e *Embedder) Model() string { return e.model }

// Embed implements the embed(texts, hints) -> Matrix(float32, n x dim)
// contract: batches texts, applies the configured normalization mode, and
// returns a row-aligned matrix.
func (e *Embedder) Embed(ctx context.Context, texts []string, hints Hints) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatchWithRetry(ctx, texts[i:end], hints)
		if err != nil {
			return nil, fmt.Errorf("embedding: batch %d-%d: %w", i, end, err)
		}
		all = append(all, batch...)
	}

	for _, row := range all {
		if packet.HasNonFinite(row) {
			return nil, &Error{Kind: ErrBadRequest, Err: fmt.Errorf("non-finite vector component")}
		}
	}
	applyNormalization(all, hints.Normalize)
	return all, nil
}

func applyNormalization(rows [][]float32, mode NormalizeMode) {
	switch mode {
	case NormalizeClient:
		for _, row := range rows {
			packet.L2Normalize(row)
		}
	case NormalizeAuto:
		for _, row := range rows {
			norm := packet.L2Norm(row)
			if norm == 0 {
				continue
			}
			if deviation := norm - 1; deviation > autoNormalizeEpsilon || deviation < -autoNormalizeEpsilon {
				packet.L2Normalize(row)
			}
		}
	case NormalizeServer, "":
		// trust server output
	}
}

func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string, hints Hints) ([][]float32, error) {
	var out [][]float32

	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		params := openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model: e.model,
		}
		if hints.Dim > 0 {
			params.Dimensions = openai.Int(int64(hints.Dim))
		}
		reqOpts := hintHeaders(hints)

		resp, err := e.client.raw.Embeddings.New(reqCtx, params, reqOpts...)
		if err != nil {
			if isClientError(err) {
				return backoff.Permanent(&Error{Kind: ErrBadRequest, Err: err})
			}
			return err // retryable: 5xx / timeout
		}

		out = make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			out[i] = toFloat32(d.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Duration(e.maxRetries+1) * 10 * time.Second

	retries := backoff.WithMaxRetries(b, uint64(max(e.maxRetries, 0)))
	if err := backoff.Retry(operation, backoff.WithContext(retries, ctx)); err != nil {
		var embedErr *Error
		if errors.As(err, &embedErr) {
			return nil, embedErr
		}
		return nil, &Error{Kind: ErrUpstream, Err: err}
	}
	return out, nil
}

// hintHeaders converts Hints into the X-Embedding-* headers the wire
// contract carries alongside the standard OpenAI-compatible body fields
// (dimensions is sent both ways: as a real body field for ingresses that
// honor it, and as a header for those that only read semantic hints).
func hintHeaders(h Hints) []option.RequestOption {
	var opts []option.RequestOption
	if h.Dim > 0 {
		opts = append(opts, option.WithHeader("X-Embedding-Dim", strconv.Itoa(h.Dim)))
	}
	if h.Normalize != "" {
		opts = append(opts, option.WithHeader("X-Embedding-Normalize", string(h.Normalize)))
	}
	if h.Task != "" {
		opts = append(opts, option.WithHeader("X-Embedding-Task", h.Task))
	}
	if h.Model != "" {
		opts = append(opts, option.WithHeader("X-Embedding-Model", h.Model))
	}
	return opts
}

func isClientError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	return false
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
