package commands

import (
	"time"

	"dashscrape/internal/fetch"
	"dashscrape/internal/scrapers/bcn"
	"dashscrape/internal/sockjs"
	oteltelemetry "dashscrape/lib/telemetry"
)

type BcnConfig struct {
	BaseUrl         string      `json:"base_url"`
	RestartCode     int         `json:"restart_code"`
	SoftReconnects  int         `json:"soft_reconnects"`
	ConnectAttempts int         `json:"connect_attempts"`
	MaxRestarts     int         `json:"max_restarts"`
	Queries         bcn.Queries `json:"queries"`
	BarrisUrl       string      `json:"barris_url"`
	BackupIndexUrl  string      `json:"backup_index_url"`
	BackupSvgUrl    string      `json:"backup_svg_url"`
}

type ChartsConfig struct {
	BaseUrl string `json:"base_url"`
	// requests per second
	Rate float64 `json:"rate"`
}

type FetchConfig struct {
	Retries           int     `json:"retries"`
	MinWaitSeconds    float64 `json:"min_wait_seconds"`
	MarginWaitSeconds float64 `json:"margin_wait_seconds"`
}

type HttpConfig struct {
	UserAgent        string  `json:"user_agent"`
	CloudflareBypass bool    `json:"cloudflare_bypass"`
	TimeoutSeconds   float64 `json:"timeout_seconds"`
}

const (
	cacheDriverFiles  = "files"
	cacheDriverSqlite = "sqlite"
)

type CacheConfig struct {
	// "files" or "sqlite"
	Driver string `json:"driver"`
}

type Config struct {
	Bcn    BcnConfig    `json:"bcn"`
	Charts ChartsConfig `json:"charts"`
	Fetch  FetchConfig  `json:"fetch"`
	Http   HttpConfig   `json:"http"`
	Cache  CacheConfig  `json:"cache"`

	Telemetry oteltelemetry.Config `json:"telemetry"`
}

func defaultConfig() Config {
	return Config{
		Bcn: BcnConfig{
			BaseUrl:         "https://dades.ajuntament.barcelona.cat/seguiment-covid19-bcn/__sockjs__",
			RestartCode:     4705,
			SoftReconnects:  1,
			ConnectAttempts: 3,
			MaxRestarts:     5,
			BarrisUrl:       "https://www.aspb.cat/docs/infobarris/",
			BackupIndexUrl:  "https://emibcn.github.io/covid-data/Bcn/index.json",
			BackupSvgUrl:    "https://emibcn.github.io/covid-data/Bcn/menu-barris.svg",
		},
		Charts: ChartsConfig{
			BaseUrl: "https://dadescovid.cat/",
			Rate:    1.8,
		},
		Fetch: FetchConfig{
			Retries:           20,
			MinWaitSeconds:    10,
			MarginWaitSeconds: 10,
		},
		Http: HttpConfig{
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
			TimeoutSeconds: 60,
		},
		Cache: CacheConfig{
			Driver: cacheDriverFiles,
		},
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c Config) fetchOptions() fetch.Options {
	return fetch.Options{
		Retries:    c.Fetch.Retries,
		MinWait:    seconds(c.Fetch.MinWaitSeconds),
		MarginWait: seconds(c.Fetch.MarginWaitSeconds),
	}
}

func (c Config) httpOptions() fetch.HttpOptions {
	return fetch.HttpOptions{
		UserAgent:        c.Http.UserAgent,
		Timeout:          seconds(c.Http.TimeoutSeconds),
		CloudflareBypass: c.Http.CloudflareBypass,
	}
}

func (c Config) socketOptions() sockjs.Options {
	opts := sockjs.DefaultOptions(c.Bcn.BaseUrl)
	opts.RestartCode = c.Bcn.RestartCode
	opts.SoftReconnects = c.Bcn.SoftReconnects
	opts.ConnectAttempts = c.Bcn.ConnectAttempts
	opts.MaxRestarts = c.Bcn.MaxRestarts
	return opts
}

func (c Config) bcnOptions() bcn.Options {
	return bcn.Options{
		Queries:        c.Bcn.Queries,
		BarrisUrl:      c.Bcn.BarrisUrl,
		BackupIndexUrl: c.Bcn.BackupIndexUrl,
		BackupSvgUrl:   c.Bcn.BackupSvgUrl,
	}
}
