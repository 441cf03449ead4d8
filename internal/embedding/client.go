package embedding

import (
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client wraps an OpenAI-compatible embeddings client. CPM targets any
// ingress that speaks the OpenAI embeddings wire shape, not OpenAI
// specifically, so the base URL is always caller-supplied.
type Client struct {
	raw *openai.Client
}

// NewClient builds a Client against baseURL using apiKey for bearer auth.
// baseURL must be http or https.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if err := validateScheme(baseURL); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	c := openai.NewClient(opts...)
	return &Client{raw: &c}, nil
}

func validateScheme(baseURL string) error {
	if strings.HasPrefix(baseURL, "https://") || strings.HasPrefix(baseURL, "http://") {
		return nil
	}
	return fmt.Errorf("embedding: url %q must use http or https", redactURL(baseURL))
}

// redactURL strips userinfo (user:pass@) from a URL before it can reach a
// log line or error message.
func redactURL(u string) string {
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return u
	}
	_, afterAt, hasUserinfo := strings.Cut(rest, "@")
	if !hasUserinfo {
		return u
	}
	return scheme + "://***@" + afterAt
}
