package export

import (
	"fmt"
	"time"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// FailedSite pairs a failed URL with its error message.
type FailedSite struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Report summarizes a batch of records.
type Report struct {
	TotalSites      int          `json:"totalSites"`
	Successful      int          `json:"successful"`
	Failed          int          `json:"failed"`
	SuccessRate     string       `json:"successRate"`
	SuccessfulSites []string     `json:"successfulSites"`
	FailedSites     []FailedSite `json:"failedSites"`
	GeneratedAt     time.Time    `json:"generatedAt"`
}

// Summarize counts successes and failures. SuccessRate has one decimal
// place and is "0.0%" for an empty batch.
func Summarize(records []scraper.PageRecord, clock scraper.Clock) Report {
	report := Report{
		TotalSites:      len(records),
		SuccessfulSites: []string{},
		FailedSites:     []FailedSite{},
		GeneratedAt:     now(clock),
	}
	for _, record := range records {
		if record.IsSuccess() {
			report.SuccessfulSites = append(report.SuccessfulSites, record.URL)
			continue
		}
		report.FailedSites = append(report.FailedSites, FailedSite{URL: record.URL, Error: record.Error})
	}
	report.Successful = len(report.SuccessfulSites)
	report.Failed = len(report.FailedSites)
	rate := 0.0
	if report.TotalSites > 0 {
		rate = float64(report.Successful) / float64(report.TotalSites) * 100
	}
	report.SuccessRate = fmt.Sprintf("%.1f%%", rate)
	return report
}

func now(clock scraper.Clock) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock.Now()
}
