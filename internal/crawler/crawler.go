// Package crawler fetches pages through the cache at a bounded request rate.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"dashscrape/internal/cache"
	"dashscrape/internal/components/assert"
	"dashscrape/internal/components/telemetry"
	"dashscrape/internal/fetch"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	report_crawler_get = "crawler.get"
)

type page struct {
	done chan struct{}
	body []byte
	err  error
}

// Crawler hands out page bodies, each distinct page is loaded at most once.
type Crawler struct {
	fetcher fetch.Fetcher
	store   cache.Store
	limiter *rate.Limiter
	tel     telemetry.API

	mutex sync.Mutex
	pages map[string]*page

	downloaded    atomic.Int64
	readFromCache atomic.Int64
}

// New creates a crawler admitting at most `perSecond` network fetches per
// second. Cache hits are not paced.
func New(fetcher fetch.Fetcher, store cache.Store, perSecond float64, tel telemetry.API) *Crawler {
	assert.NotNil(store)
	assert.NotNil(tel)

	return &Crawler{
		fetcher: fetcher,
		store:   store,
		// a burst of 1 spaces every fetch start by 1/perSecond
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		tel:     telemetry.NewScopedAPI("crawler", tel),
		pages:   make(map[string]*page),
	}
}

func (c *Crawler) Downloaded() int {
	return int(c.downloaded.Load())
}

func (c *Crawler) ReadFromCache() int {
	return int(c.readFromCache.Load())
}

// Get returns the body of `url`. Concurrent and repeated calls for the same
// page share a single load.
func (c *Crawler) Get(ctx context.Context, url string) ([]byte, error) {
	key := cache.URLKey(url)

	c.mutex.Lock()
	if p, ok := c.pages[key]; ok {
		c.mutex.Unlock()
		select {
		case <-p.done:
			return p.body, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := &page{done: make(chan struct{})}
	c.pages[key] = p
	c.mutex.Unlock()

	p.body, p.err = c.load(ctx, url, key)
	close(p.done)
	return p.body, p.err
}

func (c *Crawler) load(ctx context.Context, url, key string) ([]byte, error) {
	body, err := c.store.Get(ctx, key)
	if err == nil {
		c.readFromCache.Add(1)
		c.tel.ReportDebug("read from cache", url, key)
		return body, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		c.tel.ReportWarning(report_crawler_get, err, url)
	}

	err = c.limiter.Wait(ctx)
	if err != nil {
		return nil, err
	}
	c.tel.ReportDebug("fetch", url, key)

	body, err = c.fetcher.Get(ctx, url)
	if err != nil {
		c.tel.ReportBroken(report_crawler_get, err, url)
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	err = c.store.Put(ctx, key, body)
	if err != nil {
		c.tel.ReportBroken(report_crawler_get, err, url)
		return nil, fmt.Errorf("save cache for %s: %w", url, err)
	}
	c.downloaded.Add(1)
	return body, nil
}

// GetAll loads every url concurrently, fetch starts being spaced by the rate
// limit, and waits for all of them. `handle` runs on the loading goroutine,
// so it must be safe for concurrent use. The first error cancels the rest.
func (c *Crawler) GetAll(ctx context.Context, urls []string, handle func(url string, body []byte) error) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, url := range urls {
		group.Go(func() error {
			body, err := c.Get(ctx, url)
			if err != nil {
				return err
			}
			if handle == nil {
				return nil
			}
			return handle(url, body)
		})
	}
	return group.Wait()
}
