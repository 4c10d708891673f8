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

// localAIProvider talks to any OpenAI-compatible embeddings endpoint served
// locally (LocalAI, llama.cpp server, etc.).
type localAIProvider struct {
	baseURL string
	model   string
	dims    int
	http    *http.Client
}

func newLocalAIFromEnv() Provider {
	base := os.Getenv("LOCALAI_BASE_URL")
	if base == "" {
		return nil
	}
	model := os.Getenv("LOCALAI_EMBEDDINGS_MODEL")
	if model == "" {
		model = "bert-embeddings"
	}
	dims := 384
	if v := os.Getenv("LOCALAI_EMBEDDINGS_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dims = n
		}
	}
	return &localAIProvider{
		baseURL: base,
		model:   model,
		dims:    dims,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *localAIProvider) Name() string    { return "localai" }
func (p *localAIProvider) Dimensions() int { return p.dims }

func (p *localAIProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	reqBody := map[string]any{"model": p.model, "input": inputs}
	body, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("localai http status: %s", resp.Status)
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode localai response: %w", err)
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("localai returned %d embeddings for %d inputs", len(out.Data), len(inputs))
	}

	results := make([][]float32, len(inputs))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(results) {
			return nil, fmt.Errorf("localai returned out-of-range embedding index %d", d.Index)
		}
		results[d.Index] = f64to32(d.Embedding)
	}
	return results, nil
}
