package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-news-backend/internal/domain"
)

func TestEnqueue_ValidatesAndReportsPerURL(t *testing.T) {
	db := newServiceDB(t)
	svc := NewSourceService(db, &fakeBlocklist{blockedHosts: map[string]bool{"spam.example": true}})

	outcomes, items, err := svc.Enqueue(context.Background(), []string{
		"https://news.example/a",
		"ftp://news.example/b",
		"not a url",
		"https://spam.example/junk",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("outcomes = %d", len(outcomes))
	}
	if !outcomes[0].Queued || outcomes[0].Reason != "" {
		t.Fatalf("valid url: %+v", outcomes[0])
	}
	if outcomes[1].Queued || outcomes[1].Reason != ErrInvalidSourceURL.Error() {
		t.Fatalf("ftp url: %+v", outcomes[1])
	}
	if outcomes[2].Queued {
		t.Fatalf("garbage url: %+v", outcomes[2])
	}
	if outcomes[3].Queued || outcomes[3].Reason == "" {
		t.Fatalf("blocked url: %+v", outcomes[3])
	}
	if len(items) != 1 || items[0].Status != domain.QueueStatusPending {
		t.Fatalf("items: %+v", items)
	}
}

func TestEnqueue_DedupesAndTrims(t *testing.T) {
	db := newServiceDB(t)
	svc := NewSourceService(db, nil)

	outcomes, items, err := svc.Enqueue(context.Background(), []string{
		"  https://news.example/a  ",
		"https://news.example/a",
		"",
		"https://news.example/b",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(outcomes) != 2 || len(items) != 2 {
		t.Fatalf("outcomes=%d items=%d", len(outcomes), len(items))
	}
	if outcomes[0].URL != "https://news.example/a" || outcomes[1].URL != "https://news.example/b" {
		t.Fatalf("order not preserved: %+v", outcomes)
	}
}

func TestEnqueue_EmptyBatch(t *testing.T) {
	svc := NewSourceService(newServiceDB(t), nil)

	_, _, err := svc.Enqueue(context.Background(), []string{"", "   "})
	if !errors.Is(err, ErrNoSourceURLs) {
		t.Fatalf("expected ErrNoSourceURLs, got %v", err)
	}
}

func TestEnqueue_Idempotent(t *testing.T) {
	db := newServiceDB(t)
	svc := NewSourceService(db, nil)
	ctx := context.Background()

	_, first, err := svc.Enqueue(ctx, []string{"https://news.example/a"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	_, second, err := svc.Enqueue(ctx, []string{"https://news.example/a"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second[0].ID != first[0].ID {
		t.Fatalf("re-enqueue duplicated the row: %s vs %s", second[0].ID, first[0].ID)
	}

	var count int64
	db.Model(&domain.SourceQueueItem{}).Count(&count)
	if count != 1 {
		t.Fatalf("rows = %d", count)
	}
}

func TestEnqueue_BatchCap(t *testing.T) {
	svc := NewSourceService(newServiceDB(t), nil)
	svc.MaxBatch = 2

	outcomes, _, err := svc.Enqueue(context.Background(), []string{
		"https://news.example/a",
		"https://news.example/b",
		"https://news.example/c",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("batch not capped: %d", len(outcomes))
	}
}
