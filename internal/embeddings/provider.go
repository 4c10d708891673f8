package embeddings

import (
	"context"
	"os"
	"strings"
)

// Provider turns text into fixed-length float vectors. The engine treats any
// positive-length vector as valid and never interprets its dimensionality
// beyond passing it through. Implementations must be concurrency-safe.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "ollama").
	Name() string
	// Dimensions returns the embedding dimensionality this provider produces.
	Dimensions() int
	// Embed returns one embedding per input string.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// NewFromEnv constructs a provider based on environment variables.
// EMBEDDINGS_PROVIDER: "openai", "ollama", "localai", or empty for disabled.
func NewFromEnv() Provider {
	name := strings.ToLower(strings.TrimSpace(os.Getenv("EMBEDDINGS_PROVIDER")))
	switch name {
	case "openai":
		if p := newOpenAIFromEnv(); p != nil {
			return p
		}
		return nil
	case "ollama":
		if p := newOllamaFromEnv(); p != nil {
			return p
		}
		return nil
	case "localai", "llamacpp", "llama.cpp":
		if p := newLocalAIFromEnv(); p != nil {
			return p
		}
		return nil
	default:
		return nil
	}
}

func f64to32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
