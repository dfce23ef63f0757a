package scraper

import (
	"fmt"
	"maps"
	"net/http"
	"strings"
)

// Defaults applied when a caller omits an option.
const (
	DefaultDelaySeconds = 1.0
	DefaultMaxLinks     = 20
	DefaultMaxImages    = 10
	DefaultTextLength   = 1000
)

// RenderMode selects when the headless renderer is used.
type RenderMode string

// Supported render modes.
const (
	RenderAuto   RenderMode = "auto"
	RenderAlways RenderMode = "always"
	RenderNever  RenderMode = "never"
)

// ParseRenderMode validates a render mode string. Empty means RenderAuto.
func ParseRenderMode(raw string) (RenderMode, error) {
	switch mode := RenderMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return RenderAuto, nil
	case RenderAuto, RenderAlways, RenderNever:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown render mode %q", raw)
	}
}

// Options controls one scrape call.
type Options struct {
	DelaySeconds    float64
	MaxLinks        int
	MaxImages       int
	TextLength      int
	RespectRobots   bool
	CustomSelectors SelectorSpec
	Render          RenderMode
	Headers         http.Header
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		DelaySeconds:  DefaultDelaySeconds,
		MaxLinks:      DefaultMaxLinks,
		MaxImages:     DefaultMaxImages,
		TextLength:    DefaultTextLength,
		RespectRobots: true,
		Render:        RenderAuto,
	}
}

// Normalize replaces negative limits with defaults and fills the render mode.
// Zero is a valid explicit value: no delay, no links, no images, no text.
func (o Options) Normalize() Options {
	if o.DelaySeconds < 0 {
		o.DelaySeconds = DefaultDelaySeconds
	}
	if o.MaxLinks < 0 {
		o.MaxLinks = DefaultMaxLinks
	}
	if o.MaxImages < 0 {
		o.MaxImages = DefaultMaxImages
	}
	if o.TextLength < 0 {
		o.TextLength = DefaultTextLength
	}
	if o.Render == "" {
		o.Render = RenderAuto
	}
	return o
}

// OptionOverrides carries caller-supplied options. Nil fields fall back to
// the base options, so omitting a field and sending its default are
// equivalent.
type OptionOverrides struct {
	DelaySeconds    *float64     `json:"delaySeconds,omitempty"`
	MaxLinks        *int         `json:"maxLinks,omitempty"`
	MaxImages       *int         `json:"maxImages,omitempty"`
	TextLength      *int         `json:"textLength,omitempty"`
	RespectRobots   *bool        `json:"respectRobots,omitempty"`
	CustomSelectors SelectorSpec `json:"customSelectors,omitempty"`
	Render          *string      `json:"render,omitempty"`
}

// Resolve applies the overrides on top of base.
func (o OptionOverrides) Resolve(base Options) (Options, error) {
	out := base
	if o.DelaySeconds != nil {
		out.DelaySeconds = *o.DelaySeconds
	}
	if o.MaxLinks != nil {
		out.MaxLinks = *o.MaxLinks
	}
	if o.MaxImages != nil {
		out.MaxImages = *o.MaxImages
	}
	if o.TextLength != nil {
		out.TextLength = *o.TextLength
	}
	if o.RespectRobots != nil {
		out.RespectRobots = *o.RespectRobots
	}
	if len(o.CustomSelectors) > 0 {
		out.CustomSelectors = maps.Clone(o.CustomSelectors)
	}
	if o.Render != nil {
		mode, err := ParseRenderMode(*o.Render)
		if err != nil {
			return Options{}, err
		}
		out.Render = mode
	}
	return out.Normalize(), nil
}
