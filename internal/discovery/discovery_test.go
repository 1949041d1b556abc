package discovery

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/leadflow/backend/internal/places"
	"github.com/leadflow/backend/internal/scrape"
	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/internal/storage/sqlite"
	"github.com/leadflow/backend/pkg/config"
)

func TestCursorWindowWrapsAfterCeilRuns(t *testing.T) {
	c := Cursor{Prefixes: []string{"a", "b", "c", "d", "e", "f", "g"}, BatchSize: 3}

	var seen []string
	index := 0
	runs := 0
	for {
		batch, next := c.Window(index)
		seen = append(seen, batch...)
		runs++
		index = next
		if next == 0 {
			break
		}
	}

	if runs != 3 {
		t.Errorf("runs per pass = %d, want 3", runs)
	}
	if !reflect.DeepEqual(seen, c.Prefixes) {
		t.Errorf("visited %v, want each prefix exactly once", seen)
	}

	if batch, next := c.Window(8); !reflect.DeepEqual(batch, []string{"b", "c", "d"}) || next != 4 {
		t.Errorf("Window(8) = %v, %d", batch, next)
	}
	if batch, _ := (Cursor{}).Window(0); batch != nil {
		t.Errorf("empty cursor batch = %v", batch)
	}
}

func TestCategoryRotation(t *testing.T) {
	cats := []string{"restaurants", "dentists"}
	if got := Category(cats, 0); got != "restaurants" {
		t.Errorf("run 0 = %q", got)
	}
	if got := Category(cats, 3); got != "dentists" {
		t.Errorf("run 3 = %q", got)
	}
	if got := Category(nil, 3); got != "" {
		t.Errorf("no categories = %q", got)
	}
}

func TestSampleAndMergeZips(t *testing.T) {
	if got := SampleZips("432", 3); !reflect.DeepEqual(got, []string{"43201", "43202", "43203"}) {
		t.Errorf("SampleZips = %v", got)
	}
	if got := len(SampleZips("432", 500)); got != 99 {
		t.Errorf("SampleZips cap = %d", got)
	}
	got := MergeZips([]string{"10001", "43201"}, []string{"43201", "43202", ""})
	if !reflect.DeepEqual(got, []string{"10001", "43201", "43202"}) {
		t.Errorf("MergeZips = %v", got)
	}
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Reach us at Owner@CornerDeli.com today", "owner@cornerdeli.com"},
		{"![logo](/img/logo@2x.png) hello@shop.biz", "hello@shop.biz"},
		{"noreply@shop.biz or info@shop.biz", "info@shop.biz"},
		{"name@example.com", ""},
		{"a1b2c3d4e5f6a1b2c3d4e5f6a1b2@sentry.wixpress.com", ""},
		{"contact@yourdomain.com and sales@realplace.net.", "sales@realplace.net"},
		{"no address here", ""},
	}
	for _, tt := range tests {
		if got := ExtractEmail(tt.text); got != tt.want {
			t.Errorf("ExtractEmail(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

type fakePlaces struct {
	mu      sync.Mutex
	results map[string][]places.Place
	details map[string]*places.Details
	failZip map[string]bool
	queries []string
}

func (f *fakePlaces) TextSearch(ctx context.Context, query string) ([]places.Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	zip := query[strings.LastIndex(query, " ")+1:]
	if f.failZip[zip] {
		return nil, errors.New("upstream 503")
	}
	return f.results[zip], nil
}

func (f *fakePlaces) Details(ctx context.Context, placeID string) (*places.Details, error) {
	d, ok := f.details[placeID]
	if !ok {
		return nil, fmt.Errorf("no details for %s", placeID)
	}
	return d, nil
}

type fakeScraper map[string]string

func (f fakeScraper) Scrape(ctx context.Context, url string) (*scrape.Page, error) {
	md, ok := f[url]
	if !ok {
		return nil, errors.New("timeout")
	}
	return &scrape.Page{URL: url, Markdown: md}, nil
}

func openStore(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.NewClient(filepath.Join(t.TempDir(), "discovery.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.InitSchema(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		DefaultBusinessType: "restaurants",
		Categories:          []string{"restaurants", "dental offices"},
		PrefixBatchSize:     3,
		ZipsPerPrefix:       1,
		FiberZipCap:         5,
		ScrapeEmails:        true,
	}
}

func place(id, addr string) places.Place {
	return places.Place{PlaceID: id, Name: "Biz " + id, FormattedAddress: addr, Lat: 40.7, Lng: -73.9}
}

func detail(id, addr, website string) *places.Details {
	return &places.Details{Place: place(id, addr), Phone: "(212) 555-0100", Website: website}
}

func TestDiscoverInsertsOnceAndCollectsEmails(t *testing.T) {
	store := openStore(t)
	fp := &fakePlaces{
		results: map[string][]places.Place{
			"12201": {place("p1", ""), place("p2", "")},
		},
		details: map[string]*places.Details{
			"p1": detail("p1", "1 State St, Albany, NY 12201, USA", "https://p1.test"),
			"p2": detail("p2", "9 Main St, Albany, NY 12201, USA", "https://p2.test"),
		},
	}
	scraper := fakeScraper{"https://p1.test": "Email info@p1-deli.com for catering"}
	e := NewEngine(store, fp, scraper, testConfig())

	ctx := context.Background()
	res, err := e.Discover(ctx, Request{ZipCodes: []string{"12201", "99999"}})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.ZipsSearched, []string{"12201"}) {
		t.Errorf("zips searched = %v", res.ZipsSearched)
	}
	if res.TotalFound != 2 || res.TotalInserted != 2 || res.EmailsFound != 1 {
		t.Errorf("result = %+v", res)
	}
	// p2's website failed to scrape
	if len(res.Errors) != 1 {
		t.Errorf("errors = %v", res.Errors)
	}
	if fp.queries[0] != "restaurants in 12201" {
		t.Errorf("query = %q", fp.queries[0])
	}

	lead, err := store.GetLeadByPlaceID(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if lead.Email != "info@p1-deli.com" || lead.City != "Albany" || lead.State != "NY" || lead.Zip != "12201" {
		t.Errorf("lead = %+v", lead)
	}
	if lead.OpeningVariant != models.VariantFor("p1") || lead.DiscoveryBatch != res.BatchID {
		t.Errorf("variant/batch = %q/%q", lead.OpeningVariant, lead.DiscoveryBatch)
	}
	if p2, _ := store.GetLeadByPlaceID(ctx, "p2"); p2 == nil || p2.Email != "" {
		t.Errorf("p2 should be stored without an email: %+v", p2)
	}

	again, err := e.Discover(ctx, Request{ZipCodes: []string{"12201"}})
	if err != nil {
		t.Fatal(err)
	}
	if again.TotalFound != 2 || again.TotalInserted != 0 {
		t.Errorf("second run = %+v", again)
	}
	if n, _ := store.CountLeads(ctx); n != 2 {
		t.Errorf("lead count = %d", n)
	}
}

func TestDiscoverRejectsUnserviceableZips(t *testing.T) {
	e := NewEngine(openStore(t), &fakePlaces{}, nil, testConfig())
	if _, err := e.Discover(context.Background(), Request{ZipCodes: []string{"99999", "abc"}}); !errors.Is(err, ErrNoServiceableZips) {
		t.Fatalf("err = %v", err)
	}
}

func TestDiscoverIsolatesZipFailures(t *testing.T) {
	store := openStore(t)
	fp := &fakePlaces{
		results: map[string][]places.Place{
			"43201": {place("ok", ""), place("nodetails", ""), place("far", "")},
		},
		details: map[string]*places.Details{
			"ok":  detail("ok", "5 High St, Columbus, OH 43201, USA", ""),
			"far": detail("far", "1 Pine Rd, Reno, NV 89501, USA", ""),
		},
		failZip: map[string]bool{"12201": true},
	}
	e := NewEngine(store, fp, nil, testConfig())

	res, err := e.Discover(context.Background(), Request{ZipCodes: []string{"12201", "43201"}, BusinessType: "law firms"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ZipsSearched) != 2 || res.TotalInserted != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Errors) != 2 {
		t.Errorf("errors = %v", res.Errors)
	}
	lead, err := store.GetLeadByPlaceID(context.Background(), "ok")
	if err != nil || lead.BusinessType != "law firms" {
		t.Errorf("lead = %+v, %v", lead, err)
	}
}

func TestSweepAdvancesCursorAndPrioritisesFiberZips(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	seed := &models.Lead{ID: "seed", PlaceID: "seed", BusinessName: "Seed", Zip: "27601", CampaignStatus: models.StatusNew}
	if _, err := store.InsertLeadIgnore(ctx, seed); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertScan(ctx, &models.ScanRecord{URL: "https://news.test/a", ZipCodes: []string{"27601"}}); err != nil {
		t.Fatal(err)
	}

	fp := &fakePlaces{}
	e := NewEngine(store, fp, nil, testConfig())

	res, err := e.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantZips := []string{"27601", "12001", "12101", "12201"}
	if !reflect.DeepEqual(res.ZipsSearched, wantZips) {
		t.Errorf("zips = %v, want %v", res.ZipsSearched, wantZips)
	}
	if res.BusinessType != "restaurants" || res.FiberLaunchZipsIncluded != 1 || res.CursorPosition != 3 {
		t.Errorf("sweep = %+v", res)
	}

	state, err := store.GetSweepState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state.NextIndex != 3 || state.RunCount != 1 || state.LastZipsSearched != 4 || state.LastRunAt == nil {
		t.Errorf("state = %+v", state)
	}

	res, err = e.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.BusinessType != "dental offices" || !reflect.DeepEqual(res.PrefixesSearched, []string{"123", "124", "125"}) {
		t.Errorf("second sweep = %+v", res)
	}
}

func TestSweepDoesNotAdvanceWhenCancelled(t *testing.T) {
	store := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(store, &fakePlaces{}, nil, testConfig())
	if _, err := e.Sweep(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	state, err := store.GetSweepState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state.NextIndex != 0 || state.RunCount != 0 {
		t.Errorf("cursor moved on a cancelled run: %+v", state)
	}
}

func TestMissingPlacesKeyAbortsDiscoveryAndSweep(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	e := NewEngine(store, places.NewClient(config.PlacesConfig{}), nil, testConfig())

	res, err := e.Discover(ctx, Request{ZipCodes: []string{"12201", "43201"}})
	if !errors.Is(err, config.ErrMissingCredential) {
		t.Fatalf("Discover err = %v, want missing credential", err)
	}
	if res == nil || len(res.ZipsSearched) != 1 || len(res.Errors) != 0 {
		t.Errorf("run should stop at the first zip: %+v", res)
	}

	if _, err := e.Sweep(ctx); !errors.Is(err, config.ErrMissingCredential) {
		t.Fatalf("Sweep err = %v, want missing credential", err)
	}
	state, err := store.GetSweepState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state.NextIndex != 0 || state.RunCount != 0 {
		t.Errorf("cursor advanced past unsearched prefixes: %+v", state)
	}
}

type keylessDetails struct{ fakePlaces }

func (k *keylessDetails) Details(ctx context.Context, placeID string) (*places.Details, error) {
	return nil, config.RequireKey("places.apiKey", "")
}

func TestMissingKeyOnDetailsAbortsDiscovery(t *testing.T) {
	fp := &keylessDetails{fakePlaces{results: map[string][]places.Place{"12201": {place("p1", "")}}}}
	e := NewEngine(openStore(t), fp, nil, testConfig())

	if _, err := e.Discover(context.Background(), Request{ZipCodes: []string{"12201"}}); !errors.Is(err, config.ErrMissingCredential) {
		t.Fatalf("err = %v, want missing credential", err)
	}
}
