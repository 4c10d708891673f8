package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

type openAIProvider struct {
	apiKey  string
	baseURL string
	model   string
	dims    int
	http    *http.Client
}

func newOpenAIFromEnv() Provider {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil
	}
	base := os.Getenv("OPENAI_BASE_URL")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	model := os.Getenv("OPENAI_EMBEDDINGS_MODEL")
	if model == "" {
		model = "text-embedding-3-small"
	}
	dims := 1536
	if v := os.Getenv("OPENAI_EMBEDDINGS_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dims = n
		}
	}
	return &openAIProvider{
		apiKey:  key,
		baseURL: base,
		model:   model,
		dims:    dims,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *openAIProvider) Name() string    { return "openai" }
func (p *openAIProvider) Dimensions() int { return p.dims }

func (p *openAIProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	reqBody := map[string]any{"model": p.model, "input": inputs}
	body, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error.Message != "" {
			return nil, fmt.Errorf("openai error: %s", e.Error.Message)
		}
		return nil, fmt.Errorf("openai http status: %s", resp.Status)
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode openai response: %w", err)
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(out.Data), len(inputs))
	}

	results := make([][]float32, len(inputs))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(results) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", d.Index)
		}
		results[d.Index] = f64to32(d.Embedding)
	}
	return results, nil
}
