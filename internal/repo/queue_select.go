// Package repo — pure candidate-selection logic for ClaimNext.
//
// Kept free of database access so the ordering rules can be tested as plain
// functions.
package repo

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tbourn/go-news-backend/internal/domain"
)

// hostMeta aggregates everything the comparator needs to know about one host
// among the current claim candidates.
type hostMeta struct {
	host               string
	oldestPendingAt    time.Time
	lastPostedAt       time.Time
	everPosted         bool
	isSameAsLastPosted bool
}

// chooseCandidate picks the next item to claim from the locked candidate set.
//
// Hosts are ranked so one prolific source cannot starve the others even
// though per-item ordering stays FIFO:
//
//  1. avoid the host of the most recent post, when any alternative exists
//  2. prefer hosts never posted before
//  3. prefer the host whose last post is oldest
//  4. prefer the host holding the oldest pending item
//  5. lexicographic host order, for determinism
//
// Within the chosen host the oldest-created item wins. Candidates whose URL
// has no parseable host are only reachable through the final fallback (the
// oldest candidate overall), mirroring plain FIFO.
func chooseCandidate(candidates []domain.SourceQueueItem, hostLastPosted map[string]time.Time, lastPostedHost string) domain.SourceQueueItem {
	metas := map[string]*hostMeta{}
	for _, c := range candidates {
		host := hostOf(c.SourceURL)
		if host == "" {
			continue
		}
		m, ok := metas[host]
		if !ok {
			lastAt, ever := hostLastPosted[host]
			m = &hostMeta{
				host:               host,
				oldestPendingAt:    c.CreatedAt,
				lastPostedAt:       lastAt,
				everPosted:         ever,
				isSameAsLastPosted: lastPostedHost != "" && host == lastPostedHost,
			}
			metas[host] = m
		}
		if c.CreatedAt.Before(m.oldestPendingAt) {
			m.oldestPendingAt = c.CreatedAt
		}
	}

	if len(metas) == 0 {
		return candidates[0] // no parseable hosts at all: plain FIFO
	}

	ranked := make([]*hostMeta, 0, len(metas))
	for _, m := range metas {
		ranked = append(ranked, m)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.isSameAsLastPosted != b.isSameAsLastPosted {
			return !a.isSameAsLastPosted
		}
		if a.everPosted != b.everPosted {
			return !a.everPosted
		}
		if a.everPosted && b.everPosted && !a.lastPostedAt.Equal(b.lastPostedAt) {
			return a.lastPostedAt.Before(b.lastPostedAt)
		}
		if !a.oldestPendingAt.Equal(b.oldestPendingAt) {
			return a.oldestPendingAt.Before(b.oldestPendingAt)
		}
		return a.host < b.host
	})
	chosenHost := ranked[0].host

	var pick *domain.SourceQueueItem
	for i := range candidates {
		if hostOf(candidates[i].SourceURL) != chosenHost {
			continue
		}
		if pick == nil || candidates[i].CreatedAt.Before(pick.CreatedAt) {
			pick = &candidates[i]
		}
	}
	if pick == nil {
		return candidates[0]
	}
	return *pick
}

// hostOf extracts the lowercased hostname, or "" when the URL is unusable.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
