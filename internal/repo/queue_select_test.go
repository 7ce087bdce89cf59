package repo

import (
	"testing"
	"time"

	"github.com/tbourn/go-news-backend/internal/domain"
)

func pendingItem(id, url string, createdAt time.Time) domain.SourceQueueItem {
	return domain.SourceQueueItem{
		ID:        id,
		SourceURL: url,
		Status:    domain.QueueStatusPending,
		CreatedAt: createdAt,
	}
}

func TestChooseCandidate_Ordering(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		candidates     []domain.SourceQueueItem
		hostLastPosted map[string]time.Time
		lastPostedHost string
		wantID         string
	}{
		{
			name: "avoids last posted host",
			candidates: []domain.SourceQueueItem{
				pendingItem("a", "https://a.example/1", base),
				pendingItem("b", "https://b.example/1", base.Add(time.Hour)),
			},
			hostLastPosted: map[string]time.Time{"a.example": base},
			lastPostedHost: "a.example",
			wantID:         "b",
		},
		{
			name: "last posted host still claimable when alone",
			candidates: []domain.SourceQueueItem{
				pendingItem("a", "https://a.example/1", base),
			},
			hostLastPosted: map[string]time.Time{"a.example": base},
			lastPostedHost: "a.example",
			wantID:         "a",
		},
		{
			name: "never posted host beats any posted host",
			candidates: []domain.SourceQueueItem{
				pendingItem("a", "https://a.example/1", base),
				pendingItem("c", "https://c.example/1", base.Add(2 * time.Hour)),
			},
			hostLastPosted: map[string]time.Time{"a.example": base.Add(-24 * time.Hour)},
			lastPostedHost: "z.example",
			wantID:         "c",
		},
		{
			name: "among posted hosts the stalest wins",
			candidates: []domain.SourceQueueItem{
				pendingItem("a", "https://a.example/1", base),
				pendingItem("b", "https://b.example/1", base),
			},
			hostLastPosted: map[string]time.Time{
				"a.example": base.Add(-time.Hour),
				"b.example": base.Add(-48 * time.Hour),
			},
			lastPostedHost: "z.example",
			wantID:         "b",
		},
		{
			name: "never posted hosts break ties on oldest pending",
			candidates: []domain.SourceQueueItem{
				pendingItem("a", "https://a.example/1", base.Add(time.Hour)),
				pendingItem("b", "https://b.example/1", base),
			},
			wantID: "b",
		},
		{
			name: "full tie falls back to lexical host order",
			candidates: []domain.SourceQueueItem{
				pendingItem("b", "https://b.example/1", base),
				pendingItem("a", "https://a.example/1", base),
			},
			wantID: "a",
		},
		{
			name: "oldest item within the chosen host",
			candidates: []domain.SourceQueueItem{
				pendingItem("new", "https://a.example/new", base.Add(time.Hour)),
				pendingItem("old", "https://a.example/old", base),
			},
			wantID: "old",
		},
		{
			name: "no parseable hosts degrades to plain FIFO",
			candidates: []domain.SourceQueueItem{
				pendingItem("first", "::not-a-url::", base),
				pendingItem("second", ":%", base.Add(time.Minute)),
			},
			wantID: "first",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := chooseCandidate(tc.candidates, tc.hostLastPosted, tc.lastPostedHost)
			if got.ID != tc.wantID {
				t.Fatalf("chose %q, want %q", got.ID, tc.wantID)
			}
		})
	}
}

func TestHostOf(t *testing.T) {
	cases := map[string]string{
		"https://News.Example:8443/path?x=1": "news.example",
		"http://a.example/":                  "a.example",
		"not a url at all":                   "",
		"":                                   "",
	}
	for raw, want := range cases {
		if got := hostOf(raw); got != want {
			t.Errorf("hostOf(%q) = %q, want %q", raw, got, want)
		}
	}
}
