package foodapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mealcore/internal/config"
	"mealcore/internal/ratelimit"
	"mealcore/pkg/domain"
)

const searchBody = `{"products":[
	{"code":"3017620422003","product_name":"Hazelnut spread","image_url":"https://img/x.jpg","nutriments":{"energy-kcal_100g":539,"proteins_100g":"6.3"}},
	{"code":"","product_name":"No code"},
	{"code":"42","product_name":"  "},
	{"code":"7","product_name":"Water","nutriments":{"energy-kcal_100g":"","proteins_100g":null}},
	{"code":"8","product_name":"Broken","nutriments":{"energy-kcal_100g":-4}}
]}`

func testConfig(url string) config.FoodAPIConfig {
	return config.FoodAPIConfig{BaseURL: url, RateCapacity: 10, RateWindow: time.Minute, Timeout: time.Second, PageSize: 5}
}

func newClient(t *testing.T, cfg config.FoodAPIConfig, opts ...Option) *Client {
	t.Helper()
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestSearchMapsProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/cgi/search.pl" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if q.Get("search_terms") != "nutella" || q.Get("page_size") != "5" || q.Get("json") != "1" {
			t.Errorf("unexpected query %v", q)
		}
		if ua := r.Header.Get("User-Agent"); ua != config.DefaultUserAgent {
			t.Errorf("unexpected user agent %q", ua)
		}
		_, _ = w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := newClient(t, testConfig(srv.URL+"/"))
	items, err := c.Search(context.Background(), "nutella")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 usable products, got %d: %+v", len(items), items)
	}

	want := domain.ExternalIngredient{
		Source:           domain.SourceOpenFoodFacts,
		ExternalID:       "3017620422003",
		Name:             "Hazelnut spread",
		NutritionPer100g: domain.Nutrition{Calories: 539, Protein: 6.3},
		ImageURL:         "https://img/x.jpg",
		QuantityInGrams:  DefaultQuantityInGrams,
	}
	if items[0] != want {
		t.Fatalf("unexpected first product\n got %+v\nwant %+v", items[0], want)
	}
	if items[1].Name != "Water" || items[1].NutritionPer100g != (domain.Nutrition{}) {
		t.Fatalf("expected zero nutrition for blank nutriments, got %+v", items[1])
	}
}

func TestSearchIsRateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"products":[]}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket, err := ratelimit.NewTokenBucket(2, time.Minute, ratelimit.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	c := newClient(t, testConfig(srv.URL), WithLimiter(bucket))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.Search(ctx, "x"); err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
	}
	_, err = c.Search(ctx, "x")
	if !errors.Is(err, domain.ErrRateLimited) || !domain.IsInfrastructure(err) {
		t.Fatalf("expected rate limited infrastructure error, got %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("limited calls must not reach the server, got %d hits", got)
	}

	now = now.Add(time.Minute)
	if _, err := c.Search(ctx, "x"); err != nil {
		t.Fatalf("search after refill: %v", err)
	}
	got, ok := c.Limit()
	if !ok || got != bucket {
		t.Fatalf("expected the injected bucket back, got %v %v", got, ok)
	}
}

func TestSearchUpstreamErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()
	c := newClient(t, testConfig(srv.URL))

	_, err := c.Search(context.Background(), "x")
	if !domain.IsInfrastructure(err) || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected infrastructure error naming 500, got %v", err)
	}

	status.Store(http.StatusTooManyRequests)
	if _, err := c.Search(context.Background(), "x"); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected upstream 429 to map to rate limited, got %v", err)
	}
}

func TestSearchRejectsMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"products":[{"code":"1","product_name":"x","nutriments":{"energy-kcal_100g":"abc"}}]}`))
	}))
	defer srv.Close()
	c := newClient(t, testConfig(srv.URL))
	if _, err := c.Search(context.Background(), "x"); !domain.IsInfrastructure(err) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(testConfig("not a url")); err == nil {
		t.Fatalf("expected error for invalid base url")
	}
	cfg := testConfig("http://localhost")
	cfg.RateCapacity = 0
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for zero rate capacity")
	}
}
