// Package scraper defines the shared types, options and collaborator
// interfaces of the page scraping pipeline: the fetched document handed to
// extraction, the page record it produces, and the stores, fetchers and
// policies wired around it.
package scraper
