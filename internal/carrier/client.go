// Package carrier talks to the carrier's catalog, coverage, device and SIM APIs.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/LinePilot/internal/models"
	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Default client parameters.
const (
	DefaultRateLimit      = 10.0
	DefaultCatalogTTL     = 5 * time.Minute
	DefaultRequestTimeout = 30 * time.Second
	TenantHeader          = "X-Tenant-ID"

	// tokenRefreshEarly refreshes bearer tokens this long before they expire.
	tokenRefreshEarly = 60 * time.Second
	maxErrorBody      = 512
)

// Opts holds configuration options for the carrier client.
type Opts struct {
	BaseURL      string
	TenantID     string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	RateLimit    float64
	CatalogTTL   time.Duration
	HTTPClient   *http.Client
}

// Option defines a configuration option for the carrier client.
type Option func(*Opts)

// WithBaseURL sets the carrier API root, e.g. https://api.carrier.example/v1.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithTenantID sets the tenant sent on every request.
func WithTenantID(id string) Option {
	return func(o *Opts) { o.TenantID = id }
}

// WithClientID sets the OAuth2 client id.
func WithClientID(id string) Option {
	return func(o *Opts) { o.ClientID = id }
}

// WithClientSecret sets the OAuth2 client secret.
func WithClientSecret(secret string) Option {
	return func(o *Opts) { o.ClientSecret = secret }
}

// WithTokenURL sets the OAuth2 token endpoint.
func WithTokenURL(u string) Option {
	return func(o *Opts) { o.TokenURL = u }
}

// WithScopes sets the OAuth2 scopes requested with the client credentials.
func WithScopes(scopes ...string) Option {
	return func(o *Opts) { o.Scopes = scopes }
}

// WithRateLimit caps outgoing requests per second. Zero or less disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(o *Opts) { o.RateLimit = perSecond }
}

// WithCatalogTTL sets how long catalog responses are cached.
func WithCatalogTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.CatalogTTL = ttl }
}

// WithHTTPClient overrides the HTTP client used for API and token calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client is an HTTP+JSON carrier API client. It is safe for concurrent use.
type Client struct {
	baseURL  string
	tenantID string
	http     *http.Client
	tokens   oauth2.TokenSource
	limiter  *rate.Limiter
	catalog  *cache.Cache
	flight   singleflight.Group
}

// NewClient builds a carrier client. Unset options fall back to the
// CARRIER_BASE_URL, CARRIER_TENANT_ID, CARRIER_CLIENT_ID,
// CARRIER_CLIENT_SECRET and CARRIER_TOKEN_URL environment variables.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{RateLimit: DefaultRateLimit, CatalogTTL: DefaultCatalogTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	envDefault(&cfg.BaseURL, "CARRIER_BASE_URL")
	envDefault(&cfg.TenantID, "CARRIER_TENANT_ID")
	envDefault(&cfg.ClientID, "CARRIER_CLIENT_ID")
	envDefault(&cfg.ClientSecret, "CARRIER_CLIENT_SECRET")
	envDefault(&cfg.TokenURL, "CARRIER_TOKEN_URL")

	if cfg.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		tenantID: cfg.TenantID,
		http:     cfg.HTTPClient,
		catalog:  cache.New(cfg.CatalogTTL, 2*cfg.CatalogTTL),
	}

	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	if cfg.ClientID != "" {
		if cfg.TokenURL == "" {
			return nil, fmt.Errorf("carrier token URL must be provided with a client id")
		}
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		// Token requests go through the same HTTP client as API calls.
		tctx := context.WithValue(context.Background(), oauth2.HTTPClient, cfg.HTTPClient)
		c.tokens = oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(tctx), tokenRefreshEarly)
	}

	slog.Debug("carrier.NewClient: client configured",
		"baseURL", c.baseURL, "tenant_set", c.tenantID != "", "oauth", c.tokens != nil, "rateLimit", cfg.RateLimit)
	return c, nil
}

func envDefault(field *string, key string) {
	if *field == "" {
		*field = os.Getenv(key)
	}
}

// Plans lists the carrier's rate plans.
func (c *Client) Plans(ctx context.Context) ([]models.CatalogItem, error) {
	return c.cachedCatalog(ctx, "plans", "/plans", models.ItemPlan)
}

// Devices lists devices, narrowed by filter.
func (c *Client) Devices(ctx context.Context, filter models.DeviceFilter) ([]models.CatalogItem, error) {
	items, err := c.cachedCatalog(ctx, "devices", "/devices", models.ItemDevice)
	if err != nil {
		return nil, err
	}
	return FilterDevices(items, filter), nil
}

// Protection lists protection plans offered for a device. An empty deviceID
// lists the generic options.
func (c *Client) Protection(ctx context.Context, deviceID string) ([]models.CatalogItem, error) {
	if deviceID == "" {
		return c.cachedCatalog(ctx, "protection", "/protection", models.ItemProtection)
	}
	return c.cachedCatalog(ctx, "protection:"+deviceID, "/devices/"+url.PathEscape(deviceID)+"/protection", models.ItemProtection)
}

// CheckCoverage looks up network coverage for a ZIP code.
func (c *Client) CheckCoverage(ctx context.Context, zipCode string) (models.CoverageResult, error) {
	var out models.CoverageResult
	err := c.do(ctx, "coverage", http.MethodGet, "/coverage/"+url.PathEscape(zipCode), nil, &out)
	if err != nil {
		return models.CoverageResult{}, err
	}
	if out.ZipCode == "" {
		out.ZipCode = zipCode
	}
	return out, nil
}

// ValidateIMEI checks whether a customer's device works on the network.
func (c *Client) ValidateIMEI(ctx context.Context, imei string) (models.DeviceCompatibility, error) {
	var out models.DeviceCompatibility
	err := c.do(ctx, "validate_imei", http.MethodGet, "/devices/imei/"+url.PathEscape(imei), nil, &out)
	if err != nil {
		return models.DeviceCompatibility{}, err
	}
	if out.IMEI == "" {
		out.IMEI = imei
	}
	return out, nil
}

// SwapSIM moves a customer's line to a new SIM.
func (c *Client) SwapSIM(ctx context.Context, req models.SIMSwapRequest) (models.SIMSwapResult, error) {
	body := struct {
		ICCID   string         `json:"iccid"`
		SimType models.SimType `json:"sim_type"`
	}{ICCID: req.ICCID, SimType: req.SimType}
	var out models.SIMSwapResult
	path := "/customers/" + url.PathEscape(req.CustomerID) + "/sim-swap"
	if err := c.do(ctx, "sim_swap", http.MethodPost, path, body, &out); err != nil {
		return models.SIMSwapResult{}, err
	}
	return out, nil
}

// InvalidateCatalog drops every cached catalog response.
func (c *Client) InvalidateCatalog() {
	c.catalog.Flush()
}

type catalogResponse struct {
	Items []models.CatalogItem `json:"items"`
}

// cachedCatalog serves a catalog from cache, coalescing concurrent misses for
// the same key into one request.
func (c *Client) cachedCatalog(ctx context.Context, key, path string, itemType models.ItemType) ([]models.CatalogItem, error) {
	if v, ok := c.catalog.Get(key); ok {
		catalogCacheTotal.WithLabelValues("hit").Inc()
		return cloneItems(v.([]models.CatalogItem)), nil
	}
	catalogCacheTotal.WithLabelValues("miss").Inc()

	op := "catalog_" + string(itemType)
	ch := c.flight.DoChan(key, func() (interface{}, error) {
		// Shared fetches outlive the cancellation of any single caller.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultRequestTimeout)
		defer cancel()
		var resp catalogResponse
		if err := c.do(fctx, op, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		for i := range resp.Items {
			if resp.Items[i].Type == "" {
				resp.Items[i].Type = itemType
			}
		}
		c.catalog.Set(key, resp.Items, cache.DefaultExpiration)
		return resp.Items, nil
	})

	select {
	case <-ctx.Done():
		return nil, &APIError{Op: op, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.Debug("Client.cachedCatalog: shared in-flight fetch", "key", key)
		}
		return cloneItems(res.Val.([]models.CatalogItem)), nil
	}
}

// do performs one rate-limited, authenticated JSON request.
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) (err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return &APIError{Op: op, Err: err}
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return &APIError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tenantID != "" {
		req.Header.Set(TenantHeader, c.tenantID)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return tokenError(op, err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("Client.do: request failed", "op", op, "path", path, "error", err)
		return &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		slog.Warn("Client.do: carrier returned error", "op", op, "path", path, "status", resp.StatusCode)
		return &APIError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// tokenError keeps the token endpoint's status so auth failures classify correctly.
func tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &APIError{Op: op, StatusCode: re.Response.StatusCode, Err: fmt.Errorf("fetch token: %w", err)}
	}
	return &APIError{Op: op, Err: fmt.Errorf("fetch token: %w", err)}
}

func cloneItems(items []models.CatalogItem) []models.CatalogItem {
	out := make([]models.CatalogItem, len(items))
	copy(out, items)
	return out
}
