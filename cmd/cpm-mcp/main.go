// Package main is cpm's MCP server entry point, serving query,
// plan_from_intent, digest, and status over stdio or Streamable HTTP
// depending on SERVER_MODE.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cpm-dev/cpm/internal/cpmenv"
	"github.com/cpm-dev/cpm/internal/embedding"
	mcpserver "github.com/cpm-dev/cpm/internal/mcp"
	"github.com/cpm-dev/cpm/internal/oci"
	"github.com/cpm-dev/cpm/internal/retrieval"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	env := cpmenv.Resolve()
	if env.EmbeddingURL == "" {
		log.Fatal("EMBEDDING_URL must be set")
	}
	port := getEnv("PORT", "8080")

	layout := cpmenv.NewLayout(env.CPMRoot)
	ociClient := oci.NewClient(oci.ClientConfig{Token: os.Getenv("REGISTRY_TOKEN")})
	cas := &oci.CAS{Client: ociClient, Root: layout.Root}

	embeddingClient, err := embedding.NewClient(env.EmbeddingURL, os.Getenv("EMBEDDING_API_KEY"))
	if err != nil {
		log.Fatalf("failed to create embedding client: %v", err)
	}
	embedder := embedding.NewEmbedder(embeddingClient, env.EmbeddingModel)
	hints := embedding.Hints{Normalize: embedding.NormalizeAuto, Model: env.EmbeddingModel}

	engine := retrieval.NewEngine(layout, ociClient, cas, embedder, hints, nil)

	server := mcpserver.NewServer(&mcpserver.Config{Engine: engine})

	mux := http.NewServeMux()
	mux.HandleFunc("/", mcpserver.NewLandingHandler())
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(mcpserver.CacheHealth{Root: layout.Root}))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))

	serverMode := getEnv("SERVER_MODE", "false") == "true"

	if serverMode {
		addr := "0.0.0.0:" + port
		log.Printf("Starting HTTP server on %s (MCP at /mcp, health at /health)", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	} else {
		go func() {
			addr := "0.0.0.0:" + port
			log.Printf("Starting health server on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("Health server error: %v", err)
			}
		}()

		log.Println("Starting CPM MCP Server (stdio mode)...")
		if err := server.Run(ctx); err != nil {
			log.Printf("server error: %v", err)
			os.Exit(1)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
