package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hazyhaar/factcheck/connectivity"
	"github.com/hazyhaar/factcheck/evidence/internal/document"
	"github.com/hazyhaar/factcheck/safeurl"
)

const (
	DefaultTokenURL = "https://account.newsguardtech.com/account-auth/oauth2/token"
	DefaultCheckURL = "https://api.newsguardtech.com/v3/check/"
)

// NewsGuardConfig configures the NewsGuard rating client.
type NewsGuardConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string        // Default: DefaultTokenURL.
	CheckURL     string        // Default: DefaultCheckURL.
	Timeout      time.Duration // per lookup. Default: 10s.
	Breaker      connectivity.BreakerConfig
	// HTTPClient is the transport used for both token and check calls.
	HTTPClient *http.Client
}

func (c *NewsGuardConfig) defaults() {
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.CheckURL == "" {
		c.CheckURL = DefaultCheckURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// NewsGuard rates domains through the NewsGuard check API, authenticating
// with OAuth2 client credentials. Tokens are cached and refreshed by the
// oauth2 transport.
type NewsGuard struct {
	client   *http.Client
	checkURL string
	timeout  time.Duration
	breaker  *connectivity.CircuitBreaker
	logger   *slog.Logger
}

// NewNewsGuard creates the client. No network call is made until the first lookup.
func NewNewsGuard(cfg NewsGuardConfig, logger *slog.Logger) (*NewsGuard, error) {
	cfg.defaults()
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("trust: newsguard client id and secret are required")
	}
	if _, err := url.Parse(cfg.CheckURL); err != nil {
		return nil, fmt.Errorf("trust: newsguard check url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}

	opts := append(cfg.Breaker.Options(),
		connectivity.WithBreakerLogger(logger),
		connectivity.WithBreakerTripOn(connectivity.Outage))
	breaker := connectivity.NewCircuitBreaker("newsguard", opts...)
	return &NewsGuard{
		client:   cc.Client(ctx),
		checkURL: cfg.CheckURL,
		timeout:  cfg.Timeout,
		breaker:  breaker,
		logger:   logger,
	}, nil
}

type checkResponse struct {
	Identifier string   `json:"identifier"`
	Rank       string   `json:"rank"`
	Score      *float64 `json:"score"`
}

// Breaker returns the state of the lookup circuit breaker.
func (n *NewsGuard) Breaker() connectivity.Counts { return n.breaker.Counts() }

// Lookup implements Oracle.
func (n *NewsGuard) Lookup(ctx context.Context, domain string) (document.SiteTrust, error) {
	var st document.SiteTrust
	var lookupErr error
	err := n.breaker.Do(ctx, func(ctx context.Context) error {
		st, lookupErr = n.check(ctx, domain)
		if errors.Is(lookupErr, ErrUnrated) {
			return nil // unrated is an answer, not an outage
		}
		return lookupErr
	})
	if err != nil {
		return document.SiteTrust{}, err
	}
	return st, lookupErr
}

func (n *NewsGuard) check(ctx context.Context, domain string) (document.SiteTrust, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	u, _ := url.Parse(n.checkURL)
	q := u.Query()
	q.Set("url", domain)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return document.SiteTrust{}, fmt.Errorf("trust: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return document.SiteTrust{}, fmt.Errorf("trust: newsguard check: %w", err)
	}
	defer resp.Body.Close()

	data, err := safeurl.LimitedReadAll(resp.Body, safeurl.MaxResponseBody)
	if err != nil {
		return document.SiteTrust{}, fmt.Errorf("trust: read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return document.SiteTrust{}, fmt.Errorf("%w: %s", ErrUnrated, domain)
	}
	if resp.StatusCode != http.StatusOK {
		return document.SiteTrust{}, connectivity.NewHTTPError("newsguard", resp.StatusCode, data)
	}

	var cr checkResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return document.SiteTrust{}, fmt.Errorf("trust: decode response: %w", err)
	}
	if cr.Rank == "" && cr.Score == nil {
		return document.SiteTrust{}, fmt.Errorf("%w: %s", ErrUnrated, domain)
	}

	st := document.SiteTrust{Domain: domain, Rank: cr.Rank}
	if cr.Score != nil {
		st.Score = int(math.Floor(*cr.Score))
	}
	n.logger.Debug("trust: newsguard rating", "domain", domain, "identifier", cr.Identifier, "rank", st.Rank, "score", st.Score)
	return st, nil
}
