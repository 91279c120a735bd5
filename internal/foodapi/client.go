// Package foodapi searches an Open Food Facts compatible API. Every outbound
// request is gated by a token bucket.
package foodapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"mealcore/internal/config"
	"mealcore/internal/ratelimit"
	"mealcore/pkg/domain"
)

// DefaultQuantityInGrams is attached to search results so they can be passed
// straight to the recipe orchestrators.
const DefaultQuantityInGrams = 100

// Limiter gates outbound requests. *ratelimit.TokenBucket satisfies it.
type Limiter interface {
	Allow() bool
}

var _ Limiter = (*ratelimit.TokenBucket)(nil)

// Client talks to the food database.
type Client struct {
	baseURL   *url.URL
	userAgent string
	pageSize  int
	http      *http.Client
	limiter   Limiter
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLimiter replaces the request limiter.
func WithLimiter(l Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// New builds a client from configuration. The token bucket is sized from
// RateCapacity and RateWindow unless WithLimiter overrides it.
func New(cfg config.FoodAPIConfig, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("foodapi: invalid base url %q", cfg.BaseURL)
	}
	c := &Client{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		pageSize:  cfg.PageSize,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
	if c.userAgent == "" {
		c.userAgent = config.DefaultUserAgent
	}
	if c.pageSize <= 0 {
		c.pageSize = config.DefaultPageSize
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		bucket, err := ratelimit.NewTokenBucket(cfg.RateCapacity, cfg.RateWindow)
		if err != nil {
			return nil, fmt.Errorf("foodapi: %w", err)
		}
		c.limiter = bucket
	}
	return c, nil
}

// Search returns products matching query as external ingredient descriptors.
// Products without a code or name are skipped.
func (c *Client) Search(ctx context.Context, query string) ([]domain.ExternalIngredient, error) {
	if !c.limiter.Allow() {
		return nil, domain.InfrastructureError{Op: "food api search", Err: domain.ErrRateLimited}
	}
	u := c.baseURL.JoinPath("cgi", "search.pl")
	q := url.Values{}
	q.Set("search_terms", query)
	q.Set("search_simple", "1")
	q.Set("action", "process")
	q.Set("json", "1")
	q.Set("page_size", strconv.Itoa(c.pageSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("foodapi: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.InfrastructureError{Op: "food api search", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.InfrastructureError{Op: "food api search", Err: domain.ErrRateLimited}
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.InfrastructureError{Op: "food api search", Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))}
	}
	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, domain.InfrastructureError{Op: "food api decode", Err: err}
	}
	out := make([]domain.ExternalIngredient, 0, len(body.Products))
	for _, p := range body.Products {
		if item, ok := p.toExternal(); ok {
			out = append(out, item)
		}
	}
	return out, nil
}

type searchResponse struct {
	Products []product `json:"products"`
}

type product struct {
	Code        string     `json:"code"`
	ProductName string     `json:"product_name"`
	ImageURL    string     `json:"image_url"`
	Nutriments  nutriments `json:"nutriments"`
}

type nutriments struct {
	EnergyKcal100g flexFloat `json:"energy-kcal_100g"`
	Proteins100g   flexFloat `json:"proteins_100g"`
}

func (p product) toExternal() (domain.ExternalIngredient, bool) {
	name := strings.TrimSpace(p.ProductName)
	if strings.TrimSpace(p.Code) == "" || name == "" {
		return domain.ExternalIngredient{}, false
	}
	n := domain.Nutrition{Calories: float64(p.Nutriments.EnergyKcal100g), Protein: float64(p.Nutriments.Proteins100g)}
	if n.Validate("nutriments") != nil {
		return domain.ExternalIngredient{}, false
	}
	return domain.ExternalIngredient{
		Source:           domain.SourceOpenFoodFacts,
		ExternalID:       p.Code,
		Name:             name,
		NutritionPer100g: n,
		ImageURL:         p.ImageURL,
		QuantityInGrams:  DefaultQuantityInGrams,
	}, true
}

// flexFloat accepts numbers, numeric strings and empty values; the upstream
// API emits all three.
type flexFloat float64

var errNotNumeric = errors.New("not numeric")

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("nutriment %q: %w", s, errNotNumeric)
	}
	*f = flexFloat(v)
	return nil
}

// Limit returns the token bucket backing the client, if it uses one.
func (c *Client) Limit() (*ratelimit.TokenBucket, bool) {
	b, ok := c.limiter.(*ratelimit.TokenBucket)
	return b, ok
}
