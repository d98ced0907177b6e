// Package charts crawls the HTML dashboard of regional charts: every variant
// of the landing page and every region linked from them.
package charts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"dashscrape/internal/cache"
	"dashscrape/internal/components/assert"
	"dashscrape/internal/components/telemetry"
	"dashscrape/internal/crawler"
	"dashscrape/internal/output"
)

const (
	report_charts_scrape  = "charts.scrape"
	report_charts_variant = "charts.variant"
)

// name of the root link, which the dashboard leaves empty
const rootName = "CATALUNYA"

type IndexLink struct {
	Url      string      `json:"url"`
	Name     string      `json:"name"`
	Children []IndexLink `json:"children,omitempty"`
}

// IndexEntry describes one variant page. Urls are replaced by the key of the
// chart file holding their data.
type IndexEntry struct {
	Url       string      `json:"url"`
	Territori string      `json:"territori"`
	Poblacio  string      `json:"poblacio"`
	Children  []IndexLink `json:"children"`
}

type Counters struct {
	Downloaded    int
	ReadFromCache int
	Processed     int
}

type Result struct {
	Index    []IndexEntry
	Counters Counters
}

type entry struct {
	href      string
	territori string
	poblacio  string
	static    Static
}

type Scraper struct {
	crawler *crawler.Crawler
	writer  *output.Writer
	base    *url.URL
	tel     telemetry.API

	// only touched by the sequential part of the crawl
	entries []*entry

	mutex     sync.Mutex
	charted   map[string]bool
	processed int
}

func NewScraper(c *crawler.Crawler, writer *output.Writer, baseUrl string, tel telemetry.API) (*Scraper, error) {
	assert.NotNil(c)
	assert.NotNil(writer)
	assert.NotNil(tel)

	base, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("charts base url: %w", err)
	}
	return &Scraper{
		crawler: c,
		writer:  writer,
		base:    base,
		tel:     telemetry.NewScopedAPI("charts", tel),
		charted: make(map[string]bool),
	}, nil
}

// Scrape crawls the landing page, its population variants, its territorial
// variants with each of their population variants, and the regions linked
// from all of them. Every page ends up as a chart file, index.json lists the
// variants.
func (s *Scraper) Scrape(ctx context.Context) (Result, error) {
	result, err := s.scrape(ctx)
	if err != nil {
		s.tel.ReportBroken(report_charts_scrape, err)
		return Result{}, err
	}
	return result, nil
}

func (s *Scraper) scrape(ctx context.Context) (Result, error) {
	initial, err := s.variant(ctx, "", "", "")
	if err != nil {
		return Result{}, err
	}

	var pages []Static
	for _, v := range initial.Poblacions {
		if v.Default {
			continue
		}
		static, err := s.variant(ctx, v.Url, "", v.Name)
		if err != nil {
			return Result{}, err
		}
		pages = append(pages, static)
	}
	err = s.regions(ctx, pages)
	if err != nil {
		return Result{}, err
	}

	type territori struct {
		name   string
		static Static
	}
	var territoris []territori
	for _, v := range initial.Territoris {
		if v.Default {
			continue
		}
		static, err := s.variant(ctx, v.Url, v.Name, "")
		if err != nil {
			return Result{}, err
		}
		territoris = append(territoris, territori{name: v.Name, static: static})
	}
	for _, t := range territoris {
		var pages []Static
		for _, v := range t.static.Poblacions {
			static, err := s.variant(ctx, v.Url, t.name, v.Name)
			if err != nil {
				return Result{}, err
			}
			pages = append(pages, static)
		}
		err = s.regions(ctx, pages)
		if err != nil {
			return Result{}, err
		}
	}

	err = s.regions(ctx, []Static{initial})
	if err != nil {
		return Result{}, err
	}

	index := s.index()
	err = s.writer.WriteJSON("index.json", index)
	if err != nil {
		return Result{}, err
	}

	s.mutex.Lock()
	processed := s.processed
	s.mutex.Unlock()
	return Result{
		Index: index,
		Counters: Counters{
			Downloaded:    s.crawler.Downloaded(),
			ReadFromCache: s.crawler.ReadFromCache(),
			Processed:     processed,
		},
	}, nil
}

// variant loads the page for a (territori, poblacio) pair. An empty name
// stands for the selection of the landing page, pairs seen before are not
// loaded again.
func (s *Scraper) variant(ctx context.Context, href, territori, poblacio string) (Static, error) {
	if len(s.entries) > 0 {
		if territori == "" {
			territori = s.entries[0].territori
		}
		if poblacio == "" {
			poblacio = s.entries[0].poblacio
		}
		for _, e := range s.entries {
			if e.territori == territori && e.poblacio == poblacio {
				return e.static, nil
			}
		}
	}

	body, err := s.crawler.Get(ctx, s.resolve(href))
	if err != nil {
		return Static{}, err
	}
	page := string(body)
	static := ParseStatic(page)
	if len(static.Links) == 0 {
		s.tel.ReportWarning(report_charts_variant, fmt.Errorf("no navigation links"), href)
	}
	err = s.chart(href, page)
	if err != nil {
		return Static{}, err
	}

	if territori == "" {
		territori = defaultName(static.Territoris)
	}
	if poblacio == "" {
		poblacio = defaultName(static.Poblacions)
	}
	s.entries = append(s.entries, &entry{
		href:      href,
		territori: territori,
		poblacio:  poblacio,
		static:    static,
	})
	s.tel.ReportDebug("variant", territori, poblacio)
	return static, nil
}

// regions loads and charts every page linked from `pages` not charted yet.
func (s *Scraper) regions(ctx context.Context, pages []Static) error {
	hrefs := map[string]string{}
	var urls []string
	for _, static := range pages {
		walk(static.Links, func(l Link) {
			u := s.resolve(l.Url)
			if _, ok := hrefs[u]; ok || s.isCharted(l.Url) {
				return
			}
			hrefs[u] = l.Url
			urls = append(urls, u)
		})
	}
	if len(urls) == 0 {
		return nil
	}
	s.tel.ReportDebug("regions", len(urls))

	return s.crawler.GetAll(ctx, urls, func(u string, body []byte) error {
		return s.chart(hrefs[u], string(body))
	})
}

func (s *Scraper) isCharted(href string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.charted[cache.URLKey(href)]
}

// chart writes the chart file of a page once.
func (s *Scraper) chart(href, page string) error {
	key := cache.URLKey(href)
	s.mutex.Lock()
	if s.charted[key] {
		s.mutex.Unlock()
		return nil
	}
	s.charted[key] = true
	s.mutex.Unlock()

	chart, err := ParseChart(page)
	if err != nil {
		return fmt.Errorf("parse %s: %w", href, err)
	}
	chart.Url = href
	err = s.writer.WriteJSON(ChartFile(href), chart)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.processed++
	s.mutex.Unlock()
	return nil
}

func (s *Scraper) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return s.base.String() + href
	}
	return s.base.ResolveReference(ref).String()
}

// ChartFile is the name of the file holding the chart of the page at `href`.
func ChartFile(href string) string {
	return "chart-" + cache.URLKey(href) + ".json"
}

func (s *Scraper) index() []IndexEntry {
	index := make([]IndexEntry, 0, len(s.entries))
	for _, e := range s.entries {
		index = append(index, IndexEntry{
			Url:       cache.URLKey(e.href),
			Territori: strings.TrimSpace(e.territori),
			Poblacio:  strings.TrimSpace(e.poblacio),
			Children:  indexLinks(e.static.Links),
		})
	}
	return index
}

func indexLinks(links []Link) []IndexLink {
	if len(links) == 0 {
		return nil
	}
	out := make([]IndexLink, 0, len(links))
	for _, l := range links {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			name = rootName
		}
		out = append(out, IndexLink{
			Url:      cache.URLKey(l.Url),
			Name:     name,
			Children: indexLinks(l.Children),
		})
	}
	return out
}
