package commands

import (
	"dashscrape/internal/crawler"
	"dashscrape/internal/output"
	"dashscrape/internal/scrapers/charts"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chartsCmd)
}

var chartsCmd = &cobra.Command{
	Use:   "charts [cache] [dest]",
	Short: "Crawls every variant and region page of the charts dashboard.",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cacheDir, dest := dirArgs(args)
		ctx, cancel := runContext(cmd.Context())
		defer cancel()

		e, err := newEnv(ctx, cacheDir)
		if err != nil {
			return err
		}
		defer e.Close()

		pages, err := e.stores.open("page", "html")
		if err != nil {
			return err
		}
		writer, err := output.NewWriter(dest, e.tel)
		if err != nil {
			return err
		}

		c := crawler.New(e.fetcher, pages, e.cfg.Charts.Rate, e.tel)
		scraper, err := charts.NewScraper(c, writer, e.cfg.Charts.BaseUrl, e.tel)
		if err != nil {
			return err
		}

		group("Downloading charts")
		result, err := scraper.Scrape(ctx)
		endGroup()
		if err != nil {
			return err
		}

		type variant struct {
			Territori string `json:"territori"`
			Poblacio  string `json:"poblacio"`
		}
		summary := make([]variant, 0, len(result.Index))
		for _, entry := range result.Index {
			summary = append(summary, variant{Territori: entry.Territori, Poblacio: entry.Poblacio})
		}
		err = printResult(summary)
		if err != nil {
			return err
		}
		e.finish(ctx, "charts", counters{
			downloaded:    result.Counters.Downloaded,
			readFromCache: result.Counters.ReadFromCache,
			processed:     result.Counters.Processed,
			filesWritten:  writer.FilesWritten(),
		})
		return nil
	},
}
