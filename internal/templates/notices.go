// Package templates renders the user-facing copy that accompanies search
// results and failures. Every notice has a built-in sprig template that
// configuration may override inline or through files in a sandboxed
// directory.
package templates

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/l0p7/recipectl/internal/governor"
)

type Notice string

const (
	NoticeCacheHit          Notice = "cache_hit"
	NoticeFetched           Notice = "fetched"
	NoticeNoResults         Notice = "no_results"
	NoticeInvalidInput      Notice = "invalid_input"
	NoticeRateLimitedClient Notice = "rate_limited_client"
	NoticeRateLimitedServer Notice = "rate_limited_server"
	NoticeAuthentication    Notice = "authentication"
	NoticeEndpointNotFound  Notice = "endpoint_not_found"
	NoticeHTTPError         Notice = "http_error"
	NoticeNetworkError      Notice = "network_error"
)

var defaultSources = map[Notice]string{
	NoticeCacheHit:          `Loaded from cache (no API call used)`,
	NoticeFetched:           `Found {{ .Count }} {{ if eq .Count 1 }}recipe{{ else }}recipes{{ end }} ({{ .Remaining }} API calls remaining this minute)`,
	NoticeNoResults:         `No recipes found for {{ .Query | trunc 60 | quote }}. Try different keywords or adjust your filters.`,
	NoticeInvalidInput:      `Please enter a search term.`,
	NoticeRateLimitedClient: `Rate limit reached. Please wait {{ .WaitSeconds }} seconds. Try searching for something you've searched before - it will load instantly from cache!`,
	NoticeRateLimitedServer: `Rate limit exceeded. Please wait {{ .WaitSeconds }} seconds before trying again.`,
	NoticeAuthentication:    `There was an issue with the API credentials. Please contact support.`,
	NoticeEndpointNotFound:  `The recipe service endpoint could not be found. Please contact support.`,
	NoticeHTTPError:         `The recipe service returned status {{ .Status }}. Please try again later.`,
	NoticeNetworkError:      `Please check your internet connection and try again.`,
}

var panelTitles = map[Notice]string{
	NoticeInvalidInput:      "Search Term Required",
	NoticeRateLimitedClient: "Rate Limit Reached",
	NoticeRateLimitedServer: "Rate Limit Reached",
	NoticeAuthentication:    "Authentication Error",
	NoticeEndpointNotFound:  "Service Unavailable",
	NoticeHTTPError:         "Failed to fetch recipes",
	NoticeNetworkError:      "Network Error",
}

// Data is the template context for every notice.
type Data struct {
	Query       string
	Count       int
	Remaining   int
	WaitSeconds int
	Source      string
	Status      int
}

// Panel is the copy shown in place of results after a failed search.
type Panel struct {
	Kind   string   `json:"kind"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Tips   []string `json:"tips,omitempty"`
}

type Options struct {
	// Overrides replaces built-in sources by notice name.
	Overrides map[string]string
	// CacheTTL feeds the rate-limit tips.
	CacheTTL time.Duration
}

// Notices holds one compiled template per notice.
type Notices struct {
	templates map[Notice]*Template
	cacheTTL  time.Duration
}

// Names lists every notice name in sorted order.
func Names() []string {
	names := make([]string, 0, len(defaultSources))
	for name := range defaultSources {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// NewNotices compiles every notice. Precedence is built-in source, then a
// "<name>.tmpl" file in the renderer's sandbox, then an inline override.
func NewNotices(r *Renderer, opts Options) (*Notices, error) {
	if r == nil {
		r = NewRenderer(nil)
	}
	for name := range opts.Overrides {
		if _, ok := defaultSources[Notice(name)]; !ok {
			return nil, fmt.Errorf("templates: unknown notice %q", name)
		}
	}

	n := &Notices{templates: make(map[Notice]*Template, len(defaultSources)), cacheTTL: opts.CacheTTL}
	for name, source := range defaultSources {
		tmpl, err := r.CompileInline(string(name), source)
		if err != nil {
			return nil, err
		}
		if sb := r.Sandbox(); sb != nil && sb.Exists(string(name)+".tmpl") {
			fromFile, err := r.CompileFile(string(name) + ".tmpl")
			if err != nil {
				return nil, err
			}
			if fromFile != nil {
				tmpl = fromFile
			}
		}
		if override, ok := opts.Overrides[string(name)]; ok {
			inline, err := r.CompileInline(string(name), override)
			if err != nil {
				return nil, err
			}
			if inline != nil {
				tmpl = inline
			}
		}
		n.templates[name] = tmpl
	}
	return n, nil
}

// Render renders one notice.
func (n *Notices) Render(name Notice, data Data) (string, error) {
	tmpl, ok := n.templates[name]
	if !ok {
		return "", fmt.Errorf("templates: unknown notice %q", name)
	}
	return tmpl.Render(data)
}

// Success renders the notice for a completed search.
func (n *Notices) Success(query string, result governor.Result) (string, error) {
	data := Data{Query: query, Count: len(result.Hits), Remaining: result.Remaining}
	switch {
	case len(result.Hits) == 0:
		return n.Render(NoticeNoResults, data)
	case result.FromCache:
		return n.Render(NoticeCacheHit, data)
	default:
		return n.Render(NoticeFetched, data)
	}
}

// ForError builds the failure panel for a search error.
func (n *Notices) ForError(err error) (Panel, error) {
	var searchErr *governor.SearchError
	if !errors.As(err, &searchErr) {
		return Panel{Kind: "internal", Title: panelTitles[NoticeHTTPError], Detail: "An unexpected error occurred. Please try again later."}, nil
	}

	name := noticeFor(searchErr)
	detail, renderErr := n.Render(name, Data{
		WaitSeconds: searchErr.WaitSeconds,
		Source:      string(searchErr.Source),
		Status:      searchErr.Status,
	})
	if renderErr != nil {
		return Panel{}, renderErr
	}
	panel := Panel{Kind: string(searchErr.Kind), Title: panelTitles[name], Detail: detail}
	if searchErr.Kind == governor.KindRateLimited {
		panel.Tips = n.rateLimitTips()
	}
	return panel, nil
}

func (n *Notices) rateLimitTips() []string {
	tips := []string{
		"Search for something you've already searched - it loads instantly from cache!",
		"Try different filters on cached searches",
		"Browse your favorites while waiting",
	}
	if n.cacheTTL > 0 {
		tips = append(tips, fmt.Sprintf("Cache lasts %s, so revisit searches are free", humanDuration(n.cacheTTL)))
	}
	return tips
}

func noticeFor(err *governor.SearchError) Notice {
	switch err.Kind {
	case governor.KindInvalidInput:
		return NoticeInvalidInput
	case governor.KindRateLimited:
		if err.Source == governor.SourceServer {
			return NoticeRateLimitedServer
		}
		return NoticeRateLimitedClient
	case governor.KindAuthentication:
		return NoticeAuthentication
	case governor.KindEndpointNotFound:
		return NoticeEndpointNotFound
	case governor.KindNetwork:
		return NoticeNetworkError
	default:
		return NoticeHTTPError
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
