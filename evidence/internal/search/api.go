package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/hazyhaar/factcheck/evidence/internal/document"
	"github.com/hazyhaar/factcheck/safeurl"
)

// APIConfig describes how to call and walk a JSON search API.
//
// Endpoint placeholders {query} and {count} are substituted. Header values
// expand ${ENV_VAR}.
type APIConfig struct {
	Method       string            `yaml:"method"`        // default GET
	Headers      map[string]string `yaml:"headers"`       // ${ENV_VAR} expanded
	ResultPath   string            `yaml:"result_path"`   // dot-notation: "web.results"
	URLField     string            `yaml:"url_field"`     // default "url"
	TitleField   string            `yaml:"title_field"`   // default "title"
	SnippetField string            `yaml:"snippet_field"` // default "description"
	APIKeyHeader string            `yaml:"api_key_header"`
	APIKey       string            `yaml:"api_key"`
}

// API queries a JSON search endpoint.
type API struct {
	endpoint  string
	cfg       APIConfig
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

// NewAPI creates an API provider. An endpoint is required.
func NewAPI(cfg Config, logger *slog.Logger) (*API, error) {
	cfg.defaults()
	if cfg.Endpoint == "" {
		return nil, errors.New("search: api provider requires an endpoint")
	}
	if !strings.Contains(cfg.Endpoint, "{query}") {
		return nil, fmt.Errorf("search: api endpoint %q has no {query} placeholder", cfg.Endpoint)
	}
	if cfg.API.URLField == "" {
		cfg.API.URLField = "url"
	}
	if cfg.API.TitleField == "" {
		cfg.API.TitleField = "title"
	}
	if cfg.API.SnippetField == "" {
		cfg.API.SnippetField = "description"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &API{endpoint: cfg.Endpoint, cfg: cfg.API, userAgent: cfg.UserAgent, client: cfg.HTTPClient, logger: logger}, nil
}

// Search implements Provider.
func (a *API) Search(ctx context.Context, query string, max int) ([]document.CandidateLink, error) {
	method := a.cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	u := strings.ReplaceAll(a.endpoint, "{query}", url.QueryEscape(query))
	u = strings.ReplaceAll(u, "{count}", strconv.Itoa(max))

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("search: new request: %w", err)
	}
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, os.Expand(v, os.Getenv))
	}
	if a.cfg.APIKeyHeader != "" && a.cfg.APIKey != "" {
		req.Header.Set(a.cfg.APIKeyHeader, a.cfg.APIKey)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: api: %w", err)
	}
	defer resp.Body.Close()

	body, err := safeurl.LimitedReadAll(resp.Body, 4*safeurl.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("search: read api response: %w", err)
	}
	if err := checkStatus("api", resp, body); err != nil {
		return nil, err
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("search: api json decode: %w", err)
	}
	items, err := walkPath(raw, a.cfg.ResultPath)
	if err != nil {
		return nil, fmt.Errorf("search: walk path %q: %w", a.cfg.ResultPath, err)
	}

	c := newCollector(max)
	for _, item := range items {
		if c.full() {
			break
		}
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c.add(asString(field(obj, a.cfg.URLField)), asString(field(obj, a.cfg.TitleField)), asString(field(obj, a.cfg.SnippetField)))
	}
	a.logger.Debug("search: api results", "query", query, "count", len(c.out))
	return c.out, nil
}

// walkPath follows a dot-notation path to an array. An empty path means
// the root must be an array.
func walkPath(v any, path string) ([]any, error) {
	current := v
	if path != "" {
		for _, part := range strings.Split(path, ".") {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected object at %q, got %T", part, current)
			}
			if current, ok = obj[part]; !ok {
				return nil, fmt.Errorf("key %q not found", part)
			}
		}
	}
	arr, ok := current.([]any)
	if !ok {
		return nil, fmt.Errorf("%T is not an array", current)
	}
	return arr, nil
}

// field reads a possibly dotted key ("meta.url") from obj.
func field(obj map[string]any, key string) any {
	var current any = obj
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}
