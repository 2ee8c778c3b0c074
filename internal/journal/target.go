package journal

import (
	"net/http"
	"strings"

	"github.com/edgard/mindjournal/internal/config"
)

// WebhookPath is the route the enrichment service calls back.
const WebhookPath = "/journal/webhook"

// DevModeHeader marks a request as coming from a development client.
const DevModeHeader = "X-Dev-Mode"

// Target is where an enrichment request goes and where the result should come back.
type Target struct {
	URL         string
	CallbackURL string
}

// Targets resolves enrichment targets from configuration and the incoming request.
type Targets struct {
	cfg           config.EnrichmentConfig
	publicBaseURL string
	development   bool
}

// NewTargets creates a resolver from the application configuration.
func NewTargets(cfg *config.Config) *Targets {
	return &Targets{
		cfg:           cfg.Enrichment,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		development:   cfg.IsDevelopment(),
	}
}

// ForRequest resolves the target for an entry created by r.
func (t *Targets) ForRequest(r *http.Request) Target {
	url := t.cfg.URL
	if t.isDevRequest(r) && t.cfg.DevURL != "" {
		url = t.cfg.DevURL
	}

	base := t.publicBaseURL
	if base == "" {
		base = requestBaseURL(r)
	}
	return Target{URL: url, CallbackURL: base + WebhookPath}
}

// Default resolves the target without a request. It reports false when no
// public base URL is configured, since the callback address is then unknown.
func (t *Targets) Default() (Target, bool) {
	if t.publicBaseURL == "" {
		return Target{}, false
	}
	url := t.cfg.URL
	if t.development && t.cfg.DevURL != "" {
		url = t.cfg.DevURL
	}
	return Target{URL: url, CallbackURL: t.publicBaseURL + WebhookPath}, true
}

func (t *Targets) isDevRequest(r *http.Request) bool {
	if t.development {
		return true
	}
	return t.cfg.AllowDevHeader && r != nil && strings.EqualFold(r.Header.Get(DevModeHeader), "true")
}

// requestBaseURL derives scheme://host from proxy headers or the request itself.
func requestBaseURL(r *http.Request) string {
	if r == nil {
		return ""
	}

	scheme := firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}

	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
