package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/retry"
)

func TestFetcherConvertsHTMLToMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "leadflow-test" {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Corner Deli</title><script>var x = "x@y.zz";</script></head>
			<body><h1>Welcome</h1><p>Fresh bagels daily.</p>
			<a href="mailto:owner@cornerdeli.com?subject=hi">Email us</a></body></html>`))
	}))
	defer srv.Close()

	page, err := NewFetcher("leadflow-test", time.Second).Scrape(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if page.Title != "Corner Deli" {
		t.Errorf("title = %q", page.Title)
	}
	if !strings.Contains(page.Markdown, "# Welcome") || !strings.Contains(page.Markdown, "Fresh bagels daily.") {
		t.Errorf("markdown = %q", page.Markdown)
	}
	if !strings.Contains(page.Markdown, "owner@cornerdeli.com") {
		t.Errorf("mailto address missing from %q", page.Markdown)
	}
	if strings.Contains(page.Markdown, "x@y.zz") {
		t.Errorf("script content leaked into %q", page.Markdown)
	}
}

func TestFetcherRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := NewFetcher("", time.Second).Scrape(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}

func newAPIClient(t *testing.T, key string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	return NewClientWithRetry(config.ScrapeConfig{APIKey: key, BaseURL: srv.URL, TimeoutSec: 5}, cfg)
}

func TestClientEndpoints(t *testing.T) {
	c := newAPIClient(t, "fc-key", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fc-key" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)

		switch r.URL.Path {
		case "/v1/scrape":
			w.Write([]byte(`{"success":true,"data":{"markdown":"# Launch","metadata":{"title":"Fiber Launch"}}}`))
		case "/v1/search":
			if body["query"] != "fiber launch" {
				t.Errorf("query = %v", body["query"])
			}
			w.Write([]byte(`{"success":true,"data":[{"url":"https://news.test/a","title":"A"}]}`))
		case "/v1/map":
			if body["search"] != "fiber" {
				t.Errorf("search = %v", body["search"])
			}
			w.Write([]byte(`{"success":true,"links":["https://news.test/a","https://news.test/b"]}`))
		}
	})

	ctx := context.Background()
	page, err := c.Scrape(ctx, "https://news.test/a")
	if err != nil || page.Title != "Fiber Launch" || page.Markdown != "# Launch" {
		t.Fatalf("Scrape = %+v, %v", page, err)
	}
	results, err := c.Search(ctx, "fiber launch", 10)
	if err != nil || len(results) != 1 || results[0].URL != "https://news.test/a" {
		t.Fatalf("Search = %+v, %v", results, err)
	}
	links, err := c.Map(ctx, "https://news.test", "fiber", 100)
	if err != nil || len(links) != 2 {
		t.Fatalf("Map = %v, %v", links, err)
	}
}

func TestChainFallsBackWhenKeyMissing(t *testing.T) {
	api := newAPIClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		t.Error("hosted API must not be called without a key")
	})
	if _, err := api.Scrape(context.Background(), "https://x.test"); !errors.Is(err, config.ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>hello</p></body></html>`))
	}))
	defer srv.Close()

	page, err := Chain{api, NewFetcher("", time.Second)}.Scrape(context.Background(), srv.URL)
	if err != nil || !strings.Contains(page.Markdown, "hello") {
		t.Fatalf("Chain = %+v, %v", page, err)
	}
}
