// Package export serializes page records as JSON or CSV and summarizes a
// batch into a report.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// Format names an export encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// CSVHeader is the fixed column order of CSV exports.
var CSVHeader = []string{
	"url", "title", "metaDescription", "metaKeywords",
	"textContent", "pageSize", "scrapedAt", "error",
}

// ParseFormat validates a format name. Empty means JSON.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q", raw)
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Write encodes records to w in format f.
func Write(w io.Writer, f Format, records []scraper.PageRecord) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, records)
	case FormatCSV:
		return WriteCSV(w, records)
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

// Encode is Write into a byte slice.
func Encode(f Format, records []scraper.PageRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, f, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON writes records as an indented JSON array. Non-ASCII text and
// HTML characters are written unescaped.
func WriteJSON(w io.Writer, records []scraper.PageRecord) error {
	if records == nil {
		records = []scraper.PageRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// WriteCSV writes the CSVHeader row followed by one row per record.
// pageSize is empty for failure records.
func WriteCSV(w io.Writer, records []scraper.PageRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, record := range records {
		if err := cw.Write(csvRow(record)); err != nil {
			return fmt.Errorf("write csv row %s: %w", record.URL, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func csvRow(r scraper.PageRecord) []string {
	pageSize := ""
	if r.IsSuccess() {
		pageSize = strconv.Itoa(r.PageSize)
	}
	scrapedAt := ""
	if !r.ScrapedAt.IsZero() {
		scrapedAt = r.ScrapedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		r.URL,
		r.Title,
		r.MetaDescription,
		r.MetaKeywords,
		r.TextContent,
		pageSize,
		scrapedAt,
		r.Error,
	}
}
