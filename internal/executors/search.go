package executors

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/pkg/models"
)

const tavilySearchURL = "https://api.tavily.com/search"

// SearchExecutor answers search_web tool calls via the Tavily API. The
// key is resolved from environment first, then from the persisted Tavily
// provider config, and the tool degrades to an explicit disabled message
// rather than failing silently when neither is present (§4.3.3).
type SearchExecutor struct {
	Config     store.ConfigStore
	HTTPClient *http.Client
	APIKeyEnv  string
}

func NewSearchExecutor(cfg store.ConfigStore, apiKeyEnv string, timeout time.Duration) *SearchExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if apiKeyEnv == "" {
		apiKeyEnv = "TAVILY_API_KEY"
	}
	return &SearchExecutor{
		Config:     cfg,
		HTTPClient: &http.Client{Timeout: timeout},
		APIKeyEnv:  apiKeyEnv,
	}
}

func (e *SearchExecutor) resolveAPIKey(ctx context.Context) string {
	if key := os.Getenv(e.APIKeyEnv); key != "" {
		return key
	}
	if key := os.Getenv("SEARCH_API_KEY"); key != "" {
		return key
	}
	cfg, err := e.Config.GetConfig(ctx)
	if err != nil || cfg == nil {
		return ""
	}
	if provider, ok := cfg.MCPProviders[models.MCPProviderTavily]; ok {
		return provider.APIKey
	}
	return ""
}

// Search runs a web search, returning up to a handful of results or an
// explicit disabled status when no API key is configured anywhere.
func (e *SearchExecutor) Search(ctx context.Context, query string) Result {
	apiKey := e.resolveAPIKey(ctx)
	if apiKey == "" {
		return errResult("Web search is currently disabled. No Tavily API key is configured.")
	}

	reqBody, err := json.Marshal(map[string]interface{}{
		"api_key":        apiKey,
		"query":          query,
		"search_depth":   "basic",
		"max_results":    5,
		"include_answer": true,
	})
	if err != nil {
		return errResult("failed to build search request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tavilySearchURL, strings.NewReader(string(reqBody)))
	if err != nil {
		return errResult("failed to build search request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(httpReq)
	if err != nil {
		return errResult("web search request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errResult("web search returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return errResult("failed to decode search response: %v", err)
	}

	results := make([]map[string]string, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, map[string]string{
			"title":   r.Title,
			"url":     r.URL,
			"content": r.Content,
		})
	}

	return Result{
		"status":  "success",
		"query":   query,
		"answer":  parsed.Answer,
		"results": results,
	}
}
