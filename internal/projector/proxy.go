package projector

import (
	"net/url"
	"strings"

	"github.com/roach88/canvasync/internal/element"
)

// Proxy rewrites remote storage URLs to a same-origin proxy path.
type Proxy struct {
	// Prefix is prepended to the escaped remote URL, e.g. "/api/proxy?url=".
	Prefix string

	// Domains are host suffixes of remote storage that need proxying.
	Domains []string
}

// Rewrite returns raw routed through the proxy when its host matches one of
// the configured domains. Rewriting is idempotent: proxied URLs are relative
// and never match again.
func (p *Proxy) Rewrite(raw string) string {
	if p == nil || p.Prefix == "" || raw == "" || strings.HasPrefix(raw, p.Prefix) {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return raw
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range p.Domains {
		d = strings.ToLower(strings.TrimPrefix(d, "."))
		if d != "" && (host == d || strings.HasSuffix(host, "."+d)) {
			return p.Prefix + url.QueryEscape(raw)
		}
	}
	return raw
}

// RewriteElement rewrites every media URL held in e's meta.
func (p *Proxy) RewriteElement(e element.Element) element.Element {
	if p == nil {
		return e
	}
	switch m := e.Meta.(type) {
	case element.MediaMeta:
		m.URL = p.Rewrite(m.URL)
		m.ThumbnailURL = p.Rewrite(m.ThumbnailURL)
		e.Meta = m
	case element.GeneratorMeta:
		m.ResultURL = p.Rewrite(m.ResultURL)
		e.Meta = m
	case element.PluginMeta:
		m.ResultURL = p.Rewrite(m.ResultURL)
		e.Meta = m
	}
	return e
}
