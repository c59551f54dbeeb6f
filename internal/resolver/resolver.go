package resolver

import (
	"encoding/json"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/pressproof/render-node/pkg/models"
	"github.com/pressproof/render-node/pkg/shared"
)

// AllowlistPolicy selects how remote URLs are matched against the
// operator allowlist.
type AllowlistPolicy string

const (
	// PolicyOrigin requires scheme+host+port of the candidate to equal
	// those of an allowlist entry, independent of path. The default.
	PolicyOrigin AllowlistPolicy = "origin"
	// PolicyPrefix accepts any URL that an allowlist entry is a string
	// prefix of. Retained for backward compatibility.
	PolicyPrefix AllowlistPolicy = "prefix"
)

// TargetKind discriminates the two target variants.
type TargetKind int

const (
	TargetRemote TargetKind = iota
	TargetInline
)

// Target is a validated, navigable capture target.
type Target struct {
	Kind TargetKind

	// URL is set for remote targets, after any internal-host rewrite.
	URL string

	// HTML is set for inline targets, with the <base> element already
	// injected when a baseUrl was supplied.
	HTML string
}

// Resolver validates request targets against operator policy.
type Resolver struct {
	Allowlist         []string
	Policy            AllowlistPolicy
	ForceInternalHost bool
	InternalHost      string
	SelectorFallback  string
}

// Resolve produces a navigable target from the request body, or a
// *shared.ValidationError. No browser resource is touched here.
func (r *Resolver) Resolve(req *models.RenderRequest) (*Target, error) {
	hasURL := strings.TrimSpace(req.URL) != ""
	hasHTML := req.HTML != ""

	if !hasURL && !hasHTML {
		return nil, &shared.ValidationError{Field: "url", Message: "either url or html is required"}
	}

	if hasURL {
		return r.resolveRemote(strings.TrimSpace(req.URL))
	}
	return r.resolveInline(req.HTML, req.BaseURL)
}

func (r *Resolver) resolveRemote(rawURL string) (*Target, error) {
	if err := shared.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	rewritten := rawURL
	if r.ForceInternalHost && r.InternalHost != "" {
		rewritten = rewriteLoopbackHost(rawURL, r.InternalHost)
	}

	if !r.allowed(rewritten) {
		return nil, &shared.ValidationError{Field: "url", Message: "url is not in the allowed list"}
	}

	return &Target{Kind: TargetRemote, URL: rewritten}, nil
}

func (r *Resolver) resolveInline(html, baseURL string) (*Target, error) {
	if baseURL != "" {
		if err := shared.ValidateURL(baseURL); err != nil {
			return nil, &shared.ValidationError{Field: "baseUrl", Message: "baseUrl must be a valid http(s) url"}
		}
		html = InjectBase(html, baseURL)
	}
	return &Target{Kind: TargetInline, HTML: html}, nil
}

func (r *Resolver) allowed(rawURL string) bool {
	if len(r.Allowlist) == 0 {
		return false
	}

	if r.Policy == PolicyPrefix {
		for _, entry := range r.Allowlist {
			if entry != "" && strings.HasPrefix(rawURL, entry) {
				return true
			}
		}
		return false
	}

	candidate, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, entry := range r.Allowlist {
		allowed, err := url.Parse(entry)
		if err != nil {
			continue
		}
		if sameOrigin(candidate, allowed) {
			return true
		}
	}
	return false
}

// sameOrigin compares scheme, hostname and port. An omitted port only
// matches an omitted port: "https://a.example" does not match
// "https://a.example:8443".
func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		a.Port() == b.Port()
}

var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

// rewriteLoopbackHost replaces loopback hostnames with internalHost so
// a browser running in an isolated environment can reach a target on
// the orchestrator's host machine. The port is preserved.
func rewriteLoopbackHost(rawURL, internalHost string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if !loopbackHosts[strings.ToLower(parsed.Hostname())] {
		return rawURL
	}
	if port := parsed.Port(); port != "" {
		parsed.Host = net.JoinHostPort(internalHost, port)
	} else {
		parsed.Host = internalHost
	}
	return parsed.String()
}

// Matches only the <head> element, not <header>.
var headOpenTag = regexp.MustCompile(`(?i)<head(\s[^>]*)?>`)

// InjectBase inserts a <base> element immediately after the opening
// <head> tag so relative asset URLs resolve against baseURL. Documents
// without a <head> get one prepended.
func InjectBase(html, baseURL string) string {
	base := `<base href="` + baseURL + `">`
	if loc := headOpenTag.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + base + html[loc[1]:]
	}
	return "<head>" + base + "</head>" + html
}

// NormalizeSelector reduces the accepted selector shapes (plain string,
// array of candidates, object with a "selector" or "value" field) to a
// single trimmed selector, or fallback when absent or whitespace-only.
// Normalizing an already-normalized string returns it unchanged.
func NormalizeSelector(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			return trimmed
		}
		return fallback
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if sel := NormalizeSelector(item, ""); sel != "" {
				return sel
			}
		}
		return fallback
	}

	var obj struct {
		Selector string `json:"selector"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if trimmed := strings.TrimSpace(obj.Selector); trimmed != "" {
			return trimmed
		}
		if trimmed := strings.TrimSpace(obj.Value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
