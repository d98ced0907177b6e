// Package bcn scrapes the city dashboard served over the sockjs streaming
// transport.
package bcn

import (
	"context"
	"fmt"

	"dashscrape/internal/cache"
	"dashscrape/internal/components/assert"
	"dashscrape/internal/components/telemetry"
	"dashscrape/internal/fetch"
	"dashscrape/internal/output"
	"dashscrape/internal/pipeline"
)

const (
	report_scraper_scrape = "scraper.scrape"
	report_scraper_barris = "scraper.barris"
)

// Socket is the session the dataset exchanges run on.
type Socket interface {
	pipeline.Exchanger
	Close() error
}

type Options struct {
	Queries Queries
	// BarrisUrl is the neighbourhood information page.
	BarrisUrl string
	// Backup* point at the output of a previous run.
	BackupIndexUrl string
	BackupSvgUrl   string
}

type Counters struct {
	Downloaded    int
	ReadFromCache int
	Processed     int
}

type Result struct {
	Records  []*output.Record
	Errors   pipeline.ErrorLog
	Counters Counters
}

type Scraper struct {
	socket    Socket
	responses cache.Store
	pages     cache.Store
	fetcher   fetch.Fetcher
	opts      Options
	tel       telemetry.API

	counters Counters
}

// NewScraper creates a scraper. Dataset responses are cached in `responses`,
// plain pages fetched through `fetcher` in `pages`.
func NewScraper(socket Socket, responses, pages cache.Store, fetcher fetch.Fetcher, opts Options, tel telemetry.API) *Scraper {
	assert.NotNil(socket)
	assert.NotNil(responses)
	assert.NotNil(pages)
	assert.NotNil(tel)

	return &Scraper{
		socket:    socket,
		responses: responses,
		pages:     pages,
		fetcher:   fetcher,
		opts:      opts,
		tel:       telemetry.NewScopedAPI("bcn", tel),
	}
}

// Scrape runs every dataset exchange and attaches the districts to the menu record.
func (s *Scraper) Scrape(ctx context.Context) (Result, error) {
	descriptors, err := Descriptors(s.opts.Queries, s.tel)
	if err != nil {
		return Result{}, err
	}

	state := &State{}
	p := pipeline.New(s.socket, s.responses, state, s.tel)
	records, err := p.Run(ctx, descriptors)
	closeErr := s.socket.Close()
	if err != nil {
		s.tel.ReportBroken(report_scraper_scrape, err)
		return Result{}, err
	}
	if closeErr != nil {
		s.tel.ReportWarning(report_scraper_scrape, closeErr, "close socket")
	}

	counters := p.Counters()
	s.counters = Counters{
		Downloaded:    counters.Downloaded,
		ReadFromCache: counters.ReadFromCache,
		Processed:     counters.Processed,
	}

	if s.opts.BarrisUrl != "" {
		err = s.attachBarris(ctx, records)
		if err != nil {
			s.tel.ReportBroken(report_scraper_barris, err)
			return Result{}, err
		}
	}

	return Result{
		Records:  records,
		Errors:   p.Errors(),
		Counters: s.counters,
	}, nil
}

func (s *Scraper) attachBarris(ctx context.Context, records []*output.Record) error {
	var menu *output.Record
	for _, r := range records {
		if r.Code == "menu" {
			menu = r
			break
		}
	}
	if menu == nil {
		return fmt.Errorf("barris: no menu record")
	}

	barris, err := s.Barris(ctx)
	if err != nil {
		return err
	}
	menu.Fields["barris"] = barris.Districts
	menu.Sections = append(menu.Sections, &output.Record{
		Code:      "barris",
		Values:    barris.Svg,
		Extension: "svg",
	})
	return nil
}
