// Package fetch performs single HTTP requests with bounded retries and a
// randomized wait between attempts.
package fetch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"dashscrape/internal/components/assert"
	"dashscrape/internal/components/chrono"
	"dashscrape/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

const (
	report_fetcher_do = "fetcher.do"
)

// Options controls the retry behavior of a Fetcher.
type Options struct {
	// Retries is the total amount of attempts made before giving up.
	Retries int
	// each wait between attempts is uniformly chosen in [MinWait, MinWait+MarginWait)
	MinWait    time.Duration
	MarginWait time.Duration
}

func DefaultOptions() Options {
	return Options{
		Retries:    20,
		MinWait:    10 * time.Second,
		MarginWait: 10 * time.Second,
	}
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Method     string
	Url        string
	StatusCode int
	Status     string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %s", e.Method, e.Url, e.Status)
}

type Fetcher struct {
	http  *resty.Client
	opts  Options
	clock chrono.API
	tel   telemetry.API
}

func NewFetcher(http *resty.Client, opts Options, clock chrono.API, tel telemetry.API) Fetcher {
	assert.NotNil(http)
	assert.NotNil(clock)
	assert.NotNil(tel)

	if opts.Retries < 1 {
		opts.Retries = 1
	}
	return Fetcher{
		http:  http,
		opts:  opts,
		clock: clock,
		tel:   telemetry.NewScopedAPI("fetch", tel),
	}
}

// Http exposes the underlying client for requests that must not be retried.
func (f Fetcher) Http() *resty.Client {
	return f.http
}

func (f Fetcher) wait() time.Duration {
	if f.opts.MarginWait <= 0 {
		return f.opts.MinWait
	}
	return f.opts.MinWait + rand.N(f.opts.MarginWait)
}

// Do executes `method url`, calling `build` on a fresh request for every attempt.
// A transport error or a non-2xx status counts as a failed attempt, once every
// attempt has failed the last error is returned.
func (f Fetcher) Do(ctx context.Context, method, url string, build func(req *resty.Request)) (*resty.Response, error) {
	for attempt := 1; ; attempt++ {
		res, err := f.attempt(ctx, method, url, build)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		left := f.opts.Retries - attempt
		if left <= 0 {
			f.tel.ReportBroken(report_fetcher_do, err, method, url, "no retries left")
			return nil, fmt.Errorf("fetch %s: no retries left: %w", url, err)
		}

		wait := f.wait()
		f.tel.ReportWarning(report_fetcher_do, err, method, url, left, wait.String())
		err = f.clock.Sleep(ctx, wait)
		if err != nil {
			return nil, err
		}
		f.tel.ReportDebug("retry", left, url)
	}
}

func (f Fetcher) attempt(ctx context.Context, method, url string, build func(req *resty.Request)) (*resty.Response, error) {
	req := f.http.R().SetContext(ctx)
	if build != nil {
		build(req)
	}
	res, err := req.Execute(method, url)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		if body := res.RawBody(); body != nil {
			body.Close()
		}
		return nil, StatusError{
			Method:     method,
			Url:        url,
			StatusCode: res.StatusCode(),
			Status:     res.Status(),
		}
	}
	return res, nil
}

// Get fetches `url` and returns its body.
func (f Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	res, err := f.Do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

// HttpOptions configures the client built by NewHttpClient.
type HttpOptions struct {
	BaseUrl   string
	UserAgent string
	// Timeout of 0 means no timeout, which is what a long-poll stream needs.
	Timeout          time.Duration
	CloudflareBypass bool
}

func NewHttpClient(opts HttpOptions, tel telemetry.API, output telemetry.InstrumentOutput) *resty.Client {
	client := resty.New()
	if opts.BaseUrl != "" {
		client.SetBaseURL(opts.BaseUrl)
	}
	if opts.UserAgent != "" {
		client.SetHeader("user-agent", opts.UserAgent)
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	telemetry.InstrumentResty(client, tel, output)
	return client
}
