package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opentriage/diagraph-go/internal/buildinfo"
	"github.com/opentriage/diagraph-go/internal/database"
	"github.com/opentriage/diagraph-go/internal/embeddings"
	"github.com/opentriage/diagraph-go/internal/metrics"
	"github.com/opentriage/diagraph-go/internal/server"
	"github.com/opentriage/diagraph-go/internal/troubleshoot"
)

var (
	libsqlURL   string
	authToken   string
	projectsDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "diagraph",
		Short:   "Hybrid graph and vector diagnostic retrieval engine",
		Version: buildinfo.Version,
	}
	rootCmd.PersistentFlags().StringVar(&libsqlURL, "libsql-url", "", "libSQL database URL (default: file:./diagraph.db)")
	rootCmd.PersistentFlags().StringVar(&authToken, "auth-token", "", "Authentication token for remote databases")
	rootCmd.PersistentFlags().StringVar(&projectsDir, "projects-dir", "", "Base directory for projects. Enables multi-project mode.")

	rootCmd.AddCommand(newServeCmd(), newSeedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildConfig merges environment configuration with command line overrides.
func buildConfig() *database.Config {
	config := database.NewConfig()
	if libsqlURL != "" {
		config.URL = libsqlURL
	}
	if authToken != "" {
		config.AuthToken = authToken
	}
	if projectsDir != "" {
		config.ProjectsDir = projectsDir
		config.MultiProjectMode = true
	}
	return config
}

// newEmbeddingCache wires the configured provider, adapted to the store's
// embedding dimensionality.
func newEmbeddingCache(config *database.Config) *embeddings.Cache {
	provider := embeddings.NewFromEnv()
	if provider != nil {
		provider = embeddings.WrapToDims(provider, config.EmbeddingDims, os.Getenv("EMBEDDINGS_ADAPT_MODE"))
		log.Printf("Using embeddings provider %q (%d dims)", provider.Name(), provider.Dimensions())
	} else {
		log.Printf("Warning: no embeddings provider configured, vector search degraded to keyword matching")
	}
	return embeddings.NewCacheFromEnv(provider)
}

func newServeCmd() *cobra.Command {
	var (
		transport   string
		addr        string
		sseEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP diagnostic server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Handle graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				log.Println("Received shutdown signal, closing server...")
				cancel()
			}()

			config := buildConfig()
			metrics.InitFromEnv()

			store, err := database.NewStore(config)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Printf("Error closing store: %v", err)
				}
			}()

			cache := newEmbeddingCache(config)
			engine := troubleshoot.NewEngine(store, cache)
			mcpServer := server.NewMCPServer(engine, cache)

			log.Println("Starting diagraph server...")
			errCh := make(chan error, 1)
			switch transport {
			case "stdio":
				go func() { errCh <- mcpServer.Run(ctx) }()
			case "sse":
				go func() { errCh <- mcpServer.RunSSE(ctx, addr, sseEndpoint) }()
			default:
				log.Fatalf("unknown transport: %s (expected: stdio or sse)", transport)
			}

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					log.Printf("Server error: %v", err)
				}
			}
			log.Println("Server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport to use: stdio or sse")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Address to listen on when using SSE transport")
	cmd.Flags().StringVar(&sseEndpoint, "sse-endpoint", "/sse", "SSE endpoint path when using SSE transport")
	return cmd
}

func newSeedCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "seed <pack.yaml>",
		Short: "Load a YAML knowledge pack of issues, causes, solutions and links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := buildConfig()
			store, err := database.NewStore(config)
			if err != nil {
				return err
			}
			defer store.Close()

			cache := newEmbeddingCache(config)
			if project == "" {
				project = database.DefaultProject
			}

			counts, err := seedFromFile(cmd.Context(), store, cache, project, args[0])
			if err != nil {
				return err
			}
			log.Printf("Seeded project %s: %d issues, %d causes, %d solutions, %d links",
				project, counts.Issues, counts.Causes, counts.Solutions, counts.Links)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project to seed (default project when empty)")
	return cmd
}
