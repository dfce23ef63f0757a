// Package extract turns a fetched document into a page record. Parsing is
// tolerant of malformed markup and mis-declared encodings, every field
// extractor is an independent function over the parsed tree, and the
// assembler recovers from individual extractor failures.
package extract
