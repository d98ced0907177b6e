package commands

import (
	"dashscrape/internal/fetch"
	"dashscrape/internal/output"
	"dashscrape/internal/scrapers/bcn"
	"dashscrape/internal/sockjs"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(bcnCmd)
}

var bcnCmd = &cobra.Command{
	Use:   "bcn [cache] [dest]",
	Short: "Downloads every dataset of the city dashboard over its streaming session.",
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

		responses, err := e.stores.open("bcn", "json")
		if err != nil {
			return err
		}
		pages, err := e.stores.open("page", "html")
		if err != nil {
			return err
		}

		// the stream is a long poll, so its client has no timeout
		streamOpts := e.cfg.httpOptions()
		streamOpts.Timeout = 0
		socket, err := sockjs.NewSocket(
			fetch.NewHttpClient(streamOpts, e.tel, e.dump),
			e.fetcher,
			e.cfg.socketOptions(),
			e.tel,
		)
		if err != nil {
			return err
		}

		group("Downloading bcn")
		scraper := bcn.NewScraper(socket, responses, pages, e.fetcher, e.cfg.bcnOptions(), e.tel)
		result, err := scraper.Scrape(ctx)
		endGroup()
		if err != nil {
			return err
		}

		writer, err := output.NewWriter(dest, e.tel)
		if err != nil {
			return err
		}
		err = writer.WriteRecords(result.Records)
		if err != nil {
			return err
		}

		err = printResult(result.Records)
		if err != nil {
			return err
		}
		printErrors(result.Errors.Count, result.Errors.Messages)
		e.finish(ctx, "bcn", counters{
			downloaded:    result.Counters.Downloaded,
			readFromCache: result.Counters.ReadFromCache,
			processed:     result.Counters.Processed,
			filesWritten:  writer.FilesWritten(),
			errors:        result.Errors.Count,
		})
		return nil
	},
}
