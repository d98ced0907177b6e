package charts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"dashscrape/internal/cache"
	"dashscrape/internal/components/telemetry"
	"dashscrape/internal/crawler"
	"dashscrape/internal/output"
	"dashscrape/lib/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type testSite struct {
	*httptest.Server
	mutex sync.Mutex
	hits  map[string]int
}

func newTestSite() *testSite {
	site := &testSite{hits: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		site.hit(r)
		territori := r.URL.Query().Get("tipus_territori")
		if territori == "" {
			territori = "aga"
		}
		poblacio := r.URL.Query().Get("drop_es_residencia")
		if poblacio == "" {
			poblacio = "2"
		}
		w.Write([]byte(testNavigation(territori, poblacio) + testChartHtml))
	})
	mux.HandleFunc("/regio", func(w http.ResponseWriter, r *http.Request) {
		site.hit(r)
		w.Write([]byte(testChartHtml))
	})
	site.Server = httptest.NewServer(mux)
	return site
}

func (s *testSite) hit(r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.hits[r.URL.RequestURI()]++
}

func newTestScraper(t *testing.T, site *testSite, store cache.Store, dest string) (*Scraper, *output.Writer) {
	tel := telemetry.SlogAPI{}
	fetcher := testutil.NewFetcher(t, 1)

	writer, err := output.NewWriter(dest, tel)
	require.NoError(t, err)
	scraper, err := NewScraper(crawler.New(fetcher, store, 1000, tel), writer, site.URL+"/", tel)
	require.NoError(t, err)
	return scraper, writer
}

func TestScrape(t *testing.T) {
	site := newTestSite()
	defer site.Close()

	store := testutil.NewFileStore(t, "page", "html")
	dest := t.TempDir()
	scraper, writer := newTestScraper(t, site, store, dest)

	result, err := scraper.Scrape(context.Background())
	require.NoError(t, err)

	// 4 variant pages and 5 regions
	require.Equal(t, Counters{Downloaded: 9, Processed: 9}, result.Counters)
	require.Equal(t, 10, writer.FilesWritten())
	for uri, n := range site.hits {
		require.Equal(t, 1, n, uri)
	}
	require.Len(t, site.hits, 9)

	children := []IndexLink{
		{Url: cache.Key("/regio?id=0"), Name: "CATALUNYA"},
		{
			Url:  cache.Key("/regio?id=1"),
			Name: "Barcelonès",
			Children: []IndexLink{
				{
					Url:      cache.Key("/regio?id=2"),
					Name:     "Barcelona",
					Children: []IndexLink{{Url: cache.Key("/regio?id=3"), Name: "Sants"}},
				},
				{Url: cache.Key("/regio?id=4"), Name: "Badalona"},
			},
		},
	}
	expected := []IndexEntry{
		{Url: cache.Key(""), Territori: "Àrea", Poblacio: "Residents", Children: children},
		{Url: cache.Key("/?drop_es_residencia=1&tipus_territori=aga"), Territori: "Àrea", Poblacio: "Tots", Children: children},
		{Url: cache.Key("/?tipus_territori=com&drop_es_residencia=2"), Territori: "Comarca", Poblacio: "Residents", Children: children},
		{Url: cache.Key("/?drop_es_residencia=1&tipus_territori=com"), Territori: "Comarca", Poblacio: "Tots", Children: children},
	}
	diff := cmp.Diff(expected, result.Index)
	if diff != "" {
		t.Fatal(diff)
	}

	contents, err := os.ReadFile(filepath.Join(dest, ChartFile("/regio?id=2")))
	require.NoError(t, err)
	var chart map[string]any
	require.NoError(t, json.Unmarshal(contents, &chart))
	require.Equal(t, "/regio?id=2", chart["url"])
	require.Contains(t, chart, "grafic_1")
	require.Contains(t, chart, "seguiment")

	_, err = os.Stat(filepath.Join(dest, "index.json"))
	require.NoError(t, err)
}

func TestScrapeFromCache(t *testing.T) {
	site := newTestSite()
	defer site.Close()

	store := testutil.NewSQLiteStore(t)

	first, _ := newTestScraper(t, site, store, t.TempDir())
	_, err := first.Scrape(context.Background())
	require.NoError(t, err)

	second, _ := newTestScraper(t, site, store, t.TempDir())
	result, err := second.Scrape(context.Background())
	require.NoError(t, err)
	require.Equal(t, Counters{ReadFromCache: 9, Processed: 9}, result.Counters)
	require.Len(t, site.hits, 9)
}

func TestScrapeFailsOnBrokenPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testNavigation("aga", "2")))
	})
	mux.HandleFunc("/regio", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	scraper, _ := newTestScraper(t, &testSite{Server: server}, cache.Disabled{}, t.TempDir())
	_, err := scraper.Scrape(context.Background())
	require.Error(t, err)
}
