package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/export"
	"github.com/JakeFAU/page-scraper/internal/scraper"
)

type scrapeFlags struct {
	file          string
	format        string
	output        string
	report        bool
	delay         float64
	maxLinks      int
	maxImages     int
	textLength    int
	respectRobots bool
	selectors     []string
	render        string
}

func newScrapeCmd() *cobra.Command {
	flags := &scrapeFlags{}
	cmd := &cobra.Command{
		Use:   "scrape [urls...]",
		Short: "Scrape a list of URLs and export the records",
		Long: `Fetches each URL once, extracts a page record and writes the batch as
JSON or CSV. Use --output - to write to stdout; any other value is a key in
the configured blob store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, args, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.file, "file", "", "file with one URL per line (# starts a comment)")
	f.StringVar(&flags.format, "format", string(export.FormatJSON), "export format: json or csv")
	f.StringVarP(&flags.output, "output", "o", "", "export key in the blob store, or - for stdout (default scraped_data_<timestamp>.<ext>)")
	f.BoolVar(&flags.report, "report", false, "print a summary report after the export")
	f.Float64Var(&flags.delay, "delay", scraper.DefaultDelaySeconds, "minimum seconds between requests to one origin")
	f.IntVar(&flags.maxLinks, "max-links", scraper.DefaultMaxLinks, "links kept per page")
	f.IntVar(&flags.maxImages, "max-images", scraper.DefaultMaxImages, "images kept per page")
	f.IntVar(&flags.textLength, "text-length", scraper.DefaultTextLength, "characters of body text kept per page")
	f.BoolVar(&flags.respectRobots, "respect-robots", true, "honor robots.txt rules and crawl delays")
	f.StringArrayVar(&flags.selectors, "selector", nil, "custom CSS selector as name=css (repeatable)")
	f.StringVar(&flags.render, "render", string(scraper.RenderAuto), "headless rendering: auto, always or never")
	return cmd
}

func runScrape(cmd *cobra.Command, args []string, flags *scrapeFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	format, err := export.ParseFormat(flags.format)
	if err != nil {
		return err
	}
	urls, err := collectURLs(args, flags.file)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return errors.New("no urls given; pass them as arguments or with --file")
	}
	overrides, err := flags.overrides(cmd)
	if err != nil {
		return err
	}
	opts, err := overrides.Resolve(appInstance.Config().ScrapeDefaults())
	if err != nil {
		return err
	}

	logger.Info("scrape started", zap.Int("urls", len(urls)), zap.String("format", string(format)))
	records := appInstance.ScrapeAll(cmd.Context(), urls, opts)
	report := export.Summarize(records, appInstance.Clock())
	logger.Info("scrape finished",
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed),
	)

	reportOut := cmd.OutOrStdout()
	if flags.output == "-" {
		if err := export.Write(cmd.OutOrStdout(), format, records); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		reportOut = cmd.ErrOrStderr()
	} else {
		key := flags.output
		if key == "" {
			key = defaultExportKey(appInstance.Clock(), format)
		}
		body, err := export.Encode(format, records)
		if err != nil {
			return fmt.Errorf("encode export: %w", err)
		}
		uri, err := appInstance.Blobs().PutObject(cmd.Context(), key, format.ContentType(), bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("store export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %d records to %s\n", len(records), uri)
	}

	if flags.report {
		return printReport(reportOut, report)
	}
	return nil
}

// overrides only carries flags the user actually set so config defaults
// still apply to the rest.
func (f *scrapeFlags) overrides(cmd *cobra.Command) (scraper.OptionOverrides, error) {
	var o scraper.OptionOverrides
	changed := cmd.Flags().Changed
	if changed("delay") {
		o.DelaySeconds = &f.delay
	}
	if changed("max-links") {
		o.MaxLinks = &f.maxLinks
	}
	if changed("max-images") {
		o.MaxImages = &f.maxImages
	}
	if changed("text-length") {
		o.TextLength = &f.textLength
	}
	if changed("respect-robots") {
		o.RespectRobots = &f.respectRobots
	}
	if changed("render") {
		o.Render = &f.render
	}
	selectors, err := parseSelectors(f.selectors)
	if err != nil {
		return o, err
	}
	o.CustomSelectors = selectors
	return o, nil
}

func parseSelectors(raw []string) (scraper.SelectorSpec, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	spec := make(scraper.SelectorSpec, len(raw))
	for _, entry := range raw {
		name, css, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		css = strings.TrimSpace(css)
		if !ok || name == "" || css == "" {
			return nil, fmt.Errorf("invalid --selector %q: want name=css", entry)
		}
		spec[name] = css
	}
	return spec, nil
}

func collectURLs(args []string, file string) ([]string, error) {
	urls := make([]string, 0, len(args))
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if file == "" {
		return urls, nil
	}
	fh, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer fh.Close()
	fromFile, err := readURLs(fh)
	if err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return append(urls, fromFile...), nil
}

func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func defaultExportKey(clock scraper.Clock, format export.Format) string {
	return fmt.Sprintf("scraped_data_%s.%s", clock.Now().UTC().Format("20060102_150405"), format.Extension())
}

func printReport(w io.Writer, report export.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
