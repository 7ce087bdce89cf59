// Package blocklist implements the operator-configured deny lists applied to
// source hosts and article titles. Matching is pure and synchronous; the
// pipeline applies it on claim (host), after scraping (raw title), and after
// rewriting (final title), since a rewrite can still produce blocked content.
package blocklist

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tbourn/go-news-backend/internal/config"
	"github.com/tbourn/go-news-backend/internal/textnorm"
)

// Filter holds the normalized deny lists. The zero value blocks nothing.
type Filter struct {
	hosts  []string // lowercased host names; match exact or parent-domain suffix
	titles []string // folded substrings matched against folded titles
}

// fileFormat is the YAML shape accepted by BLOCKLIST_FILE.
type fileFormat struct {
	Hosts  []string `yaml:"hosts"`
	Titles []string `yaml:"titles"`
}

// New builds a Filter from configuration, merging env-provided entries with
// the optional YAML file. A missing or unreadable file is an error so that a
// typo in BLOCKLIST_FILE does not silently disable the policy.
func New(cfg config.BlocklistConfig) (*Filter, error) {
	hosts := append([]string(nil), cfg.Hosts...)
	titles := append([]string(nil), cfg.TitleSubstrings...)

	if cfg.FilePath != "" {
		raw, err := os.ReadFile(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("read blocklist file: %w", err)
		}
		var f fileFormat
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse blocklist file: %w", err)
		}
		hosts = append(hosts, f.Hosts...)
		titles = append(titles, f.Titles...)
	}

	flt := &Filter{}
	seenHost := map[string]struct{}{}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, dup := seenHost[h]; dup {
			continue
		}
		seenHost[h] = struct{}{}
		flt.hosts = append(flt.hosts, h)
	}
	seenTitle := map[string]struct{}{}
	for _, t := range titles {
		t = textnorm.Fold(t)
		if t == "" {
			continue
		}
		if _, dup := seenTitle[t]; dup {
			continue
		}
		seenTitle[t] = struct{}{}
		flt.titles = append(flt.titles, t)
	}
	return flt, nil
}

// IsBlockedSourceURL reports whether the URL's host is denied, and the
// matching rule. A URL that cannot be parsed is not blocked here; it fails
// validation elsewhere.
func (f *Filter) IsBlockedSourceURL(sourceURL string) (bool, string) {
	if f == nil || len(f.hosts) == 0 {
		return false, ""
	}
	u, err := url.Parse(sourceURL)
	if err != nil {
		return false, ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false, ""
	}
	for _, b := range f.hosts {
		if hostMatches(b, host) {
			return true, "blocked host: " + b
		}
	}
	return false, ""
}

// IsBlockedTitle reports whether the folded title contains any denied
// substring, and the matching rule.
func (f *Filter) IsBlockedTitle(title string) (bool, string) {
	if f == nil || len(f.titles) == 0 {
		return false, ""
	}
	folded := textnorm.Fold(title)
	if folded == "" {
		return false, ""
	}
	for _, sub := range f.titles {
		if strings.Contains(folded, sub) {
			return true, "blocked title match: " + sub
		}
	}
	return false, ""
}

// hostMatches allows blocking a parent domain: "example.com" also blocks
// "m.example.com".
func hostMatches(blocked, actual string) bool {
	if blocked == "" || actual == "" {
		return false
	}
	return actual == blocked || strings.HasSuffix(actual, "."+blocked)
}
