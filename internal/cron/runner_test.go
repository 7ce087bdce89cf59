package cron

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-news-backend/internal/http/middleware"
)

// scriptedEndpoint replies with one canned response per call, repeating the
// last one when the script runs out.
func scriptedEndpoint(t *testing.T, calls *atomic.Int32, script []struct {
	status int
	body   string
}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(calls.Add(1)) - 1
		if i >= len(script) {
			i = len(script) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(script[i].status)
		_, _ = w.Write([]byte(script[i].body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRunner(endpoint string, budget int) *Runner {
	return &Runner{
		Endpoint: endpoint,
		Secret:   "cron-secret",
		Budget:   budget,
		Pause:    0,
		Log:      zerolog.Nop(),
	}
}

func TestRun_PublishesUntilQueueDrained(t *testing.T) {
	var calls atomic.Int32
	srv := scriptedEndpoint(t, &calls, []struct {
		status int
		body   string
	}{
		{200, `{"ok":true,"processed":{"queueId":"q1","slug":"a","title":"A"}}`},
		{200, `{"ok":true,"processed":{"queueId":"q2","slug":"b","title":"B"}}`},
		{200, `{"ok":true,"message":"no pending sources"}`},
	})

	sum, err := newRunner(srv.URL, 10).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Published != 2 || sum.Calls != 3 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.StopReason != "queue drained" {
		t.Fatalf("stop reason = %q", sum.StopReason)
	}
}

func TestRun_StopsOnCooldown(t *testing.T) {
	var calls atomic.Int32
	srv := scriptedEndpoint(t, &calls, []struct {
		status int
		body   string
	}{
		{200, `{"ok":true,"processed":{"queueId":"q1","slug":"a","title":"A"}}`},
		{200, `{"ok":true,"cooldown":true,"retryAfterSeconds":540}`},
	})

	sum, err := newRunner(srv.URL, 10).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Published != 1 || sum.Calls != 2 || sum.StopReason != "cooldown" {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRun_SoftFailuresAndBlocksDoNotStopTheRun(t *testing.T) {
	var calls atomic.Int32
	srv := scriptedEndpoint(t, &calls, []struct {
		status int
		body   string
	}{
		{200, `{"ok":false,"error":"scrape: connection refused"}`},
		{200, `{"ok":true,"blocked":true,"reason":"blocked host: spam.example"}`},
		{200, `{"ok":false,"error":"scrape: connection refused"}`},
	})

	sum, err := newRunner(srv.URL, 3).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.SoftFailures != 2 || sum.Blocked != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.StopReason != "budget exhausted" {
		t.Fatalf("stop reason = %q", sum.StopReason)
	}
}

func TestRun_HardFailureHaltsWithError(t *testing.T) {
	var calls atomic.Int32
	srv := scriptedEndpoint(t, &calls, []struct {
		status int
		body   string
	}{
		{500, `{"ok":false,"hardFailure":true,"error":"configuration error: token expired"}`},
	})

	sum, err := newRunner(srv.URL, 10).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if sum.HardFailures != 1 || sum.Calls != 1 || sum.StopReason != "hard failure" {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRun_RejectedSecretIsTransportError(t *testing.T) {
	var calls atomic.Int32
	srv := scriptedEndpoint(t, &calls, []struct {
		status int
		body   string
	}{
		{401, `{"code":"unauthorized","message":"invalid or missing secret"}`},
	})

	sum, err := newRunner(srv.URL, 10).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if sum.StopReason != "transport error" || sum.Calls != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRun_SendsSecretHeader(t *testing.T) {
	var gotSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(middleware.HeaderCronSecret)
		_, _ = w.Write([]byte(`{"ok":true,"message":"no pending sources"}`))
	}))
	t.Cleanup(srv.Close)

	if _, err := newRunner(srv.URL, 1).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotSecret != "cron-secret" {
		t.Fatalf("secret header = %q", gotSecret)
	}
}

func TestRun_ContextCancelledDuringPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// Cancel shortly after the first call is answered; the runner then hits
	// the cancelled context while pausing before the second call.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"processed":{"queueId":"q1","slug":"a","title":"A"}}`))
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()
	}))
	t.Cleanup(srv.Close)

	r := newRunner(srv.URL, 10)
	r.Pause = time.Hour

	sum, err := r.Run(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
	if sum.StopReason != "context cancelled" || sum.Published != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}
