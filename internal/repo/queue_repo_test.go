package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-news-backend/internal/domain"
)

var testPolicy = ClaimPolicy{MaxAttempts: 3, ScanLimit: 200, RecentPostedLimit: 2000}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("queue_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedQueueItem inserts a queue row with explicit timestamps, bypassing the
// enqueue path so tests control ordering.
func seedQueueItem(t *testing.T, db *gorm.DB, url, status string, attempts int, createdAt time.Time, processedAt *time.Time) domain.SourceQueueItem {
	t.Helper()
	item := domain.SourceQueueItem{
		ID:           uuid.NewString(),
		SourceURL:    url,
		Status:       status,
		AttemptCount: attempts,
		ProcessedAt:  processedAt,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed %s: %v", url, err)
	}
	return item
}

func TestEnqueueSource_InsertsPending(t *testing.T) {
	db := newTestDB(t)

	item, err := EnqueueSource(context.Background(), db, "https://news.example/a")
	if err != nil {
		t.Fatalf("EnqueueSource: %v", err)
	}
	if item.ID == "" || item.Status != domain.QueueStatusPending || item.AttemptCount != 0 {
		t.Fatalf("unexpected row: %+v", item)
	}
}

func TestEnqueueSource_IdempotentOnURL(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := EnqueueSource(ctx, db, "https://news.example/a")
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	second, err := EnqueueSource(ctx, db, "https://news.example/a")
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("re-enqueue created a new row: %s vs %s", second.ID, first.ID)
	}

	var count int64
	db.Model(&domain.SourceQueueItem{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestEnqueueSource_NeverResetsTerminalRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item, _ := EnqueueSource(ctx, db, "https://news.example/a")
	slug := "a-slug"
	if _, err := MarkPosted(ctx, db, item.ID, &slug, nil, nil); err != nil {
		t.Fatalf("MarkPosted: %v", err)
	}

	again, err := EnqueueSource(ctx, db, "https://news.example/a")
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if again.Status != domain.QueueStatusPosted {
		t.Fatalf("re-enqueue resurrected a terminal row: %+v", again)
	}
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	db := newTestDB(t)

	item, err := ClaimNext(context.Background(), db, testPolicy)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if item != nil {
		t.Fatalf("expected no claim on empty queue, got %+v", item)
	}
}

func TestClaimNext_MarksProcessingAndIsExclusive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seeded, _ := EnqueueSource(ctx, db, "https://news.example/a")

	claimed, err := ClaimNext(ctx, db, testPolicy)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != seeded.ID {
		t.Fatalf("expected to claim the only pending item, got %+v", claimed)
	}
	if claimed.Status != domain.QueueStatusProcessing || claimed.ClaimedAt == nil {
		t.Fatalf("claim must mark processing with claimed_at: %+v", claimed)
	}

	// The row is processing now; a second claim sees nothing.
	second, err := ClaimNext(ctx, db, testPolicy)
	if err != nil {
		t.Fatalf("second ClaimNext: %v", err)
	}
	if second != nil {
		t.Fatalf("claimed item must not be claimable again, got %+v", second)
	}
}

func TestClaimNext_ConcurrentClaimsAreDisjoint(t *testing.T) {
	db := newTestDB(t)
	// Let racing claim transactions wait for the writer lock instead of
	// failing fast.
	db.Exec("PRAGMA busy_timeout=5000;")

	const seeded = 8
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < seeded; i++ {
		seedQueueItem(t, db, fmt.Sprintf("https://host%d.example/a", i),
			domain.QueueStatusPending, 0, base.Add(time.Duration(i)*time.Minute), nil)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
	)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < seeded; i++ {
				item, err := ClaimNext(context.Background(), db, testPolicy)
				if err != nil {
					// SQLite refuses one of two racing writers; the loser's
					// transaction rolls back and the item stays claimable.
					continue
				}
				if item == nil {
					return
				}
				mu.Lock()
				claimed[item.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) == 0 {
		t.Fatal("no goroutine claimed anything")
	}
	for id, n := range claimed {
		if n > 1 {
			t.Fatalf("item %s handed out %d times", id, n)
		}
	}

	// Every successful claim left exactly one processing row behind.
	var processing int64
	db.Model(&domain.SourceQueueItem{}).
		Where("status = ?", domain.QueueStatusProcessing).Count(&processing)
	if processing != int64(len(claimed)) {
		t.Fatalf("processing rows = %d, claims recorded = %d", processing, len(claimed))
	}
}

func TestClaimNext_SkipsExhaustedItems(t *testing.T) {
	db := newTestDB(t)

	seedQueueItem(t, db, "https://news.example/a", domain.QueueStatusPending,
		testPolicy.MaxAttempts, time.Now().UTC(), nil)

	item, err := ClaimNext(context.Background(), db, testPolicy)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if item != nil {
		t.Fatalf("item at the attempt ceiling must not be claimed, got %+v", item)
	}
}

func TestClaimNext_AvoidsLastPostedHost(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	// Host A just posted.
	postedAt := now.Add(-time.Minute)
	seedQueueItem(t, db, "https://a.example/posted", domain.QueueStatusPosted, 0,
		now.Add(-time.Hour), &postedAt)

	// Pending: an older item from host A and a newer one from host B.
	seedQueueItem(t, db, "https://a.example/next", domain.QueueStatusPending, 0,
		now.Add(-30*time.Minute), nil)
	wantB := seedQueueItem(t, db, "https://b.example/next", domain.QueueStatusPending, 0,
		now.Add(-10*time.Minute), nil)

	claimed, err := ClaimNext(context.Background(), db, testPolicy)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != wantB.ID {
		t.Fatalf("expected host-B item despite FIFO, got %+v", claimed)
	}
}

func TestClaimNext_FallsBackToLastPostedHostWhenAlone(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	postedAt := now.Add(-time.Minute)
	seedQueueItem(t, db, "https://a.example/posted", domain.QueueStatusPosted, 0,
		now.Add(-time.Hour), &postedAt)
	want := seedQueueItem(t, db, "https://a.example/next", domain.QueueStatusPending, 0,
		now.Add(-30*time.Minute), nil)

	claimed, err := ClaimNext(context.Background(), db, testPolicy)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != want.ID {
		t.Fatalf("sole host must still be claimable, got %+v", claimed)
	}
}

func TestClaimNext_PrefersNeverPostedHost(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	// Hosts A and B both posted before; C never did.
	aAt := now.Add(-2 * time.Hour)
	bAt := now.Add(-time.Hour)
	seedQueueItem(t, db, "https://a.example/p", domain.QueueStatusPosted, 0, now.Add(-3*time.Hour), &aAt)
	seedQueueItem(t, db, "https://b.example/p", domain.QueueStatusPosted, 0, now.Add(-3*time.Hour), &bAt)

	seedQueueItem(t, db, "https://a.example/n", domain.QueueStatusPending, 0, now.Add(-40*time.Minute), nil)
	seedQueueItem(t, db, "https://b.example/n", domain.QueueStatusPending, 0, now.Add(-50*time.Minute), nil)
	wantC := seedQueueItem(t, db, "https://c.example/n", domain.QueueStatusPending, 0, now.Add(-5*time.Minute), nil)

	claimed, err := ClaimNext(context.Background(), db, testPolicy)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != wantC.ID {
		t.Fatalf("expected never-posted host C, got %+v", claimed)
	}
}

func TestClaimNext_OldestItemWithinChosenHost(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	want := seedQueueItem(t, db, "https://a.example/old", domain.QueueStatusPending, 0,
		now.Add(-time.Hour), nil)
	seedQueueItem(t, db, "https://a.example/new", domain.QueueStatusPending, 0,
		now.Add(-time.Minute), nil)

	claimed, err := ClaimNext(context.Background(), db, testPolicy)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != want.ID {
		t.Fatalf("expected oldest item of the host, got %+v", claimed)
	}
}

func TestMarkFailed_AttemptAccountingAndTerminal(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	policy := ClaimPolicy{MaxAttempts: 2, ScanLimit: 10, RecentPostedLimit: 10}

	item, _ := EnqueueSource(ctx, db, "https://news.example/a")

	// First failure: attempt consumed, row back to pending, not terminal.
	after1, err := MarkFailed(ctx, db, item.ID, "scrape timeout", policy.MaxAttempts)
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if after1.AttemptCount != 1 || after1.Status != domain.QueueStatusPending {
		t.Fatalf("first failure: %+v", after1)
	}
	if after1.ProcessedAt != nil {
		t.Fatalf("non-terminal failure must not stamp processed_at: %+v", after1)
	}
	if after1.LastError == nil || *after1.LastError != "scrape timeout" {
		t.Fatalf("last_error not recorded: %+v", after1)
	}

	// Second failure reaches the ceiling: terminal failed, processed_at set.
	after2, err := MarkFailed(ctx, db, item.ID, "scrape timeout again", policy.MaxAttempts)
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if after2.AttemptCount != 2 || after2.Status != domain.QueueStatusFailed {
		t.Fatalf("terminal failure: %+v", after2)
	}
	if after2.ProcessedAt == nil {
		t.Fatalf("terminal failure must stamp processed_at: %+v", after2)
	}

	// Terminal rows are invisible to the claimer.
	if got, _ := ClaimNext(ctx, db, policy); got != nil {
		t.Fatalf("terminal failed row was claimed: %+v", got)
	}
}

func TestMarkBlocked_PinsBudgetAndTerminates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item, _ := EnqueueSource(ctx, db, "https://spam.example/a")

	blocked, err := MarkBlocked(ctx, db, item.ID, "blocked host: spam.example", testPolicy.MaxAttempts)
	if err != nil {
		t.Fatalf("MarkBlocked: %v", err)
	}
	if blocked.Status != domain.QueueStatusFailed || blocked.AttemptCount != testPolicy.MaxAttempts {
		t.Fatalf("blocked row must be terminal with pinned attempts: %+v", blocked)
	}
	if blocked.ProcessedAt == nil {
		t.Fatalf("blocked row must stamp processed_at: %+v", blocked)
	}
	if got, _ := ClaimNext(ctx, db, testPolicy); got != nil {
		t.Fatalf("blocked row was claimed: %+v", got)
	}
}

func TestMarkPendingNoAttempt_FreeRetry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item, _ := EnqueueSource(ctx, db, "https://news.example/a")
	claimed, _ := ClaimNext(ctx, db, testPolicy)
	if claimed == nil {
		t.Fatal("claim failed")
	}

	released, err := MarkPendingNoAttempt(ctx, db, claimed.ID, "rate limited upstream")
	if err != nil {
		t.Fatalf("MarkPendingNoAttempt: %v", err)
	}
	if released.Status != domain.QueueStatusPending || released.AttemptCount != 0 {
		t.Fatalf("free retry must not consume budget: %+v", released)
	}
	if released.ClaimedAt != nil {
		t.Fatalf("release must clear claimed_at: %+v", released)
	}

	// The item is immediately claimable again.
	re, _ := ClaimNext(ctx, db, testPolicy)
	if re == nil || re.ID != item.ID {
		t.Fatalf("released item should be claimable, got %+v", re)
	}
}

func TestMarkPosted_RecordsOutcome(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item, _ := EnqueueSource(ctx, db, "https://news.example/a")
	slug := "a-story"
	fb := "123_456"
	note := "comment share url: timeout"

	posted, err := MarkPosted(ctx, db, item.ID, &slug, &fb, &note)
	if err != nil {
		t.Fatalf("MarkPosted: %v", err)
	}
	if posted.Status != domain.QueueStatusPosted || posted.ProcessedAt == nil {
		t.Fatalf("posted row: %+v", posted)
	}
	if posted.PublishedSlug == nil || *posted.PublishedSlug != slug {
		t.Fatalf("slug not recorded: %+v", posted)
	}
	if posted.FBPostID == nil || *posted.FBPostID != fb {
		t.Fatalf("fb post id not recorded: %+v", posted)
	}
	if posted.LastError == nil || *posted.LastError != note {
		t.Fatalf("best-effort social failure note not recorded: %+v", posted)
	}
}

func TestSetPublishedSlug_Checkpoint(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item, _ := EnqueueSource(ctx, db, "https://news.example/a")
	if err := SetPublishedSlug(ctx, db, item.ID, "a-story"); err != nil {
		t.Fatalf("SetPublishedSlug: %v", err)
	}

	got, err := GetQueueItem(ctx, db, item.ID)
	if err != nil {
		t.Fatalf("GetQueueItem: %v", err)
	}
	if got.PublishedSlug == nil || *got.PublishedSlug != "a-story" {
		t.Fatalf("checkpoint not persisted: %+v", got)
	}
	// Status untouched: the item is still in flight.
	if got.Status != domain.QueueStatusPending {
		t.Fatalf("checkpoint must not change status: %+v", got)
	}
}

func TestTransitions_UnknownID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := GetQueueItem(ctx, db, "nope"); err != ErrQueueItemNotFound {
		t.Fatalf("GetQueueItem: %v", err)
	}
	if err := SetPublishedSlug(ctx, db, "nope", "s"); err != ErrQueueItemNotFound {
		t.Fatalf("SetPublishedSlug: %v", err)
	}
	if _, err := MarkFailed(ctx, db, "nope", "x", 3); err != ErrQueueItemNotFound {
		t.Fatalf("MarkFailed: %v", err)
	}
	if _, err := MarkPosted(ctx, db, "nope", nil, nil, nil); err != ErrQueueItemNotFound {
		t.Fatalf("MarkPosted: %v", err)
	}
}
