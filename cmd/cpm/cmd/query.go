package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cpm-dev/cpm/internal/cpmenv"
	"github.com/cpm-dev/cpm/internal/embedding"
	"github.com/cpm-dev/cpm/internal/oci"
	"github.com/cpm-dev/cpm/internal/retrieval"
)

var (
	queryRef string
	queryK   int
)

var queryCmd = &cobra.Command{
	Use:   "query <q>",
	Short: "Run a semantic query against a packet reference",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryRef, "ref", "", "oci:// packet reference, alias or digest-pinned (required)")
	queryCmd.Flags().IntVar(&queryK, "k", 10, "number of results, clamped to [1,20]")
	_ = queryCmd.MarkFlagRequired("ref")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	engine, err := newRetrievalEngine()
	if err != nil {
		return err
	}

	result, err := engine.Query(context.Background(), queryRef, args[0], queryK)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// newRetrievalEngine wires a retrieval.Engine from CPM_ROOT/REGISTRY/
// EMBEDDING_* environment defaults.
func newRetrievalEngine() (*retrieval.Engine, error) {
	env := cpmenv.Resolve()
	if env.EmbeddingURL == "" {
		return nil, fmt.Errorf("EMBEDDING_URL must be set")
	}

	layout := cpmenv.NewLayout(env.CPMRoot)
	ociClient := oci.NewClient(oci.ClientConfig{Token: os.Getenv("REGISTRY_TOKEN")})
	cas := &oci.CAS{Client: ociClient, Root: layout.Root}

	client, err := embedding.NewClient(env.EmbeddingURL, os.Getenv("EMBEDDING_API_KEY"))
	if err != nil {
		return nil, err
	}
	embedder := embedding.NewEmbedder(client, env.EmbeddingModel)
	hints := embedding.Hints{Normalize: embedding.NormalizeAuto, Model: env.EmbeddingModel}

	return retrieval.NewEngine(layout, ociClient, cas, embedder, hints, nil), nil
}
