// Package services – PublishService
//
// This file implements the PublishService, the orchestrator that publishes
// one claimed source end to end: cooldown check, claim, blocklist gates,
// scrape (or resume from a prior partial run), optional AI rewrite with
// guardrails, article persistence, best-effort Facebook cross-post, and the
// final queue transition.
//
// The run is a single-threaded, short-lived invocation. All coordination
// with concurrent invocations happens through the store: the claim
// transaction partitions pending work, and the publishedSlug checkpoint
// makes the article insert happen at most once per source even when a run
// dies halfway through.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-news-backend/internal/domain"
	"github.com/tbourn/go-news-backend/internal/repo"
	"github.com/tbourn/go-news-backend/internal/rewrite"
	"github.com/tbourn/go-news-backend/internal/scrape"
	"github.com/tbourn/go-news-backend/internal/social"
	"github.com/tbourn/go-news-backend/internal/textnorm"
)

// Publish outcome statuses, in the order the pipeline can produce them.
const (
	PublishStatusCooldown  = "cooldown"
	PublishStatusNoPending = "no_pending"
	PublishStatusBlocked   = "blocked"
	PublishStatusPosted    = "posted"
	PublishStatusFailed    = "failed"
)

// rateLimitRetryAfter is the pause hint handed to callers when the source
// site answers 429. It is deliberately longer than a single cron tick.
const rateLimitRetryAfter = 10 * time.Minute

// PublishResult describes the outcome of one claim-and-publish invocation.
// A soft per-item failure is a result, not an error; PublishOne returns a
// non-nil error only for hard failures that should halt an automation run.
type PublishResult struct {
	Status     string
	Reason     string
	RetryAfter time.Duration
	Item       *domain.SourceQueueItem
	Article    *domain.Article
}

// ContentScraper fetches and extracts a source page.
type ContentScraper interface {
	Scrape(ctx context.Context, sourceURL string) (*scrape.Result, error)
}

// ContentRewriter rewrites a scraped article, enforcing title guardrails.
type ContentRewriter interface {
	Rewrite(ctx context.Context, sourceTitle, sourceContent, category string) (*rewrite.Output, error)
}

// SocialPublisher cross-posts a published article to a social page.
type SocialPublisher interface {
	PostPhoto(ctx context.Context, imageURL, caption string) (*social.PhotoPost, error)
	PostLink(ctx context.Context, link, message string) (string, error)
	ResolveCanonicalPostID(ctx context.Context, photoID string) (string, error)
	Comment(ctx context.Context, targetID, message string) (string, error)
}

// ContentBlocklist gates sources on host and headline.
type ContentBlocklist interface {
	IsBlockedSourceURL(sourceURL string) (bool, string)
	IsBlockedTitle(title string) (bool, string)
}

// PublishService publishes one queued source per invocation.
type PublishService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Policy bounds the claim scan and the per-item attempt budget.
	Policy repo.ClaimPolicy
	// Scraper fetches source pages.
	Scraper ContentScraper
	// Rewriter is nil when AI rewriting is disabled.
	Rewriter ContentRewriter
	// RewriteRequired makes a rewrite failure fatal instead of falling back
	// to the scraped title and content.
	RewriteRequired bool
	// Social is nil when cross-posting is disabled.
	Social SocialPublisher
	// Blocklist gates hosts and headlines.
	Blocklist ContentBlocklist

	// Cooldown is the global minimum interval between successful publishes.
	Cooldown time.Duration
	// SlugMaxAttempts bounds slug-collision suffix retries.
	SlugMaxAttempts int
	// ExcerptMaxLen caps the stored excerpt by rune length.
	ExcerptMaxLen int
	// SiteURL is the public base URL used for the canonical share link.
	SiteURL string
	// DefaultCategory is assigned to every published article.
	DefaultCategory string

	Log zerolog.Logger
}

// PublishOne runs the full pipeline for at most one queue item.
//
// The returned error is non-nil only for hard failures (wrapped ErrConfig or
// ErrRewriteRequired); those free-retry the claimed item via
// MarkPendingNoAttempt before returning so no budget is burned. Everything
// else, including a per-item soft failure, comes back as a PublishResult.
func (s *PublishService) PublishOne(ctx context.Context) (*PublishResult, error) {
	if wait, err := s.cooldownRemaining(ctx); err != nil {
		return nil, err
	} else if wait > 0 {
		return &PublishResult{Status: PublishStatusCooldown, RetryAfter: wait}, nil
	}

	item, err := repo.ClaimNext(ctx, s.DB, s.Policy)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return &PublishResult{Status: PublishStatusNoPending}, nil
	}

	log := s.Log.With().Str("queue_id", item.ID).Str("source_url", item.SourceURL).Logger()
	log.Info().Int("attempt_count", item.AttemptCount).Msg("claimed source")

	res, procErr := s.process(ctx, log, item)
	if procErr == nil {
		return res, nil
	}
	return s.classifyFailure(ctx, log, item, procErr)
}

// process runs steps 3..10 for an already-claimed item.
func (s *PublishService) process(ctx context.Context, log zerolog.Logger, item *domain.SourceQueueItem) (*PublishResult, error) {
	if blocked, reason := s.Blocklist.IsBlockedSourceURL(item.SourceURL); blocked {
		return s.block(ctx, log, item, reason)
	}

	article, err := s.materializeArticle(ctx, log, item)
	if err != nil {
		return nil, err
	}
	if article == nil {
		// materializeArticle hit a title blocklist; the item is already marked.
		return s.lastBlockResult(ctx, item)
	}

	fbPostID, socialErr := s.crossPost(ctx, log, article)
	if socialErr != nil {
		// Token and permission problems are page configuration, not this
		// item: no retry of any source can succeed until an operator fixes
		// the page, so they escalate instead of burning the queue.
		var ge *social.GraphError
		if errors.As(socialErr, &ge) {
			switch {
			case ge.IsTokenExpired():
				return nil, fmt.Errorf("%w: facebook page token expired: %v", ErrConfig, socialErr)
			case ge.IsPermission():
				return nil, fmt.Errorf("%w: facebook page permission missing: %v", ErrConfig, socialErr)
			}
		}
		log.Warn().Err(socialErr).Msg("social cross-post failed, publishing anyway")
	}

	var fbID, lastErr *string
	if fbPostID != "" {
		fbID = &fbPostID
	}
	if socialErr != nil {
		msg := socialErr.Error()
		lastErr = &msg
	}
	updated, err := repo.MarkPosted(ctx, s.DB, item.ID, &article.Slug, fbID, lastErr)
	if err != nil {
		return nil, err
	}
	log.Info().Str("slug", article.Slug).Msg("source published")
	return &PublishResult{Status: PublishStatusPosted, Item: updated, Article: article}, nil
}

// materializeArticle resumes a prior partial run via publishedSlug, or
// scrapes, rewrites, and persists a fresh article. It returns (nil, nil)
// when a title blocklist gate fired and the item was marked blocked.
func (s *PublishService) materializeArticle(ctx context.Context, log zerolog.Logger, item *domain.SourceQueueItem) (*domain.Article, error) {
	if item.PublishedSlug != nil && *item.PublishedSlug != "" {
		a, err := repo.GetArticleBySlug(ctx, s.DB, *item.PublishedSlug)
		if err == nil {
			log.Info().Str("slug", a.Slug).Msg("resuming with already-published article")
			return a, nil
		}
		if !errors.Is(err, repo.ErrArticleNotFound) {
			return nil, err
		}
		// Checkpoint points at a missing article; fall through and rebuild.
		log.Warn().Str("slug", *item.PublishedSlug).Msg("published slug has no article, re-scraping")
	}

	scraped, err := s.Scraper.Scrape(ctx, item.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", item.SourceURL, err)
	}
	if blocked, reason := s.Blocklist.IsBlockedTitle(scraped.Title); blocked {
		if _, err := s.block(ctx, log, item, reason); err != nil {
			return nil, err
		}
		return nil, nil
	}

	title, content := scraped.Title, scraped.Content
	if s.Rewriter != nil {
		out, err := s.Rewriter.Rewrite(ctx, scraped.Title, scraped.Content, s.DefaultCategory)
		switch {
		case err == nil:
			title, content = out.Title, out.Content
			if out.FallbackTitle {
				log.Info().Str("title", title).Msg("using fallback title derived from rewrite body")
			}
		case s.RewriteRequired:
			return nil, fmt.Errorf("%w: %v", ErrRewriteRequired, err)
		default:
			log.Warn().Err(err).Msg("rewrite failed, keeping scraped content")
		}
		if blocked, reason := s.Blocklist.IsBlockedTitle(title); blocked {
			if _, err := s.block(ctx, log, item, reason); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}

	article, err := repo.CreateArticle(ctx, s.DB, &domain.Article{
		Title:       title,
		Content:     content,
		Excerpt:     textnorm.Excerpt(content, s.ExcerptMaxLen),
		ImageURL:    scraped.ImageURL,
		Category:    s.DefaultCategory,
		PublishedAt: time.Now().UTC(),
	}, s.SlugMaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("persist article: %w", err)
	}
	// Durability checkpoint before any external side effect: a crash past
	// this point resumes with the same article instead of inserting twice.
	if err := repo.SetPublishedSlug(ctx, s.DB, item.ID, article.Slug); err != nil {
		return nil, err
	}
	return article, nil
}

// crossPost publishes the article on the configured page and comments the
// canonical share URL on it. The comment is best-effort: its failure is
// reported but never undoes the post.
func (s *PublishService) crossPost(ctx context.Context, log zerolog.Logger, article *domain.Article) (string, error) {
	if s.Social == nil {
		return "", nil
	}

	caption := buildCaption(article.Title, article.Excerpt, article.Category)
	shareURL := s.canonicalShareURL(article.Slug)

	var postID, commentTarget string
	if article.ImageURL != "" {
		photo, err := s.Social.PostPhoto(ctx, article.ImageURL, caption)
		if err != nil {
			return "", err
		}
		commentTarget = photo.PhotoID
		postID = photo.PostID
		if postID == "" {
			canonical, err := s.Social.ResolveCanonicalPostID(ctx, photo.PhotoID)
			if err != nil {
				log.Warn().Err(err).Msg("canonical post id lookup failed")
			} else if canonical != "" {
				postID = canonical
				commentTarget = canonical
			}
		} else {
			commentTarget = postID
		}
	} else {
		id, err := s.Social.PostLink(ctx, shareURL, caption)
		if err != nil {
			return "", err
		}
		postID = id
		commentTarget = id
	}

	if shareURL != "" {
		if _, err := s.Social.Comment(ctx, commentTarget, shareURL); err != nil {
			return postID, fmt.Errorf("comment share url: %w", err)
		}
	}
	return postID, nil
}

// classifyFailure maps a pipeline error onto the matching queue transition.
//
//   - Config and required-rewrite errors free-retry the item and surface as a
//     hard failure so the driver halts the run.
//   - A 429 from the source site free-retries the item and hands the caller a
//     cooldown hint.
//   - Everything else consumes one attempt.
func (s *PublishService) classifyFailure(ctx context.Context, log zerolog.Logger, item *domain.SourceQueueItem, procErr error) (*PublishResult, error) {
	msg := procErr.Error()

	if errors.Is(procErr, ErrConfig) || errors.Is(procErr, ErrRewriteRequired) {
		if _, err := repo.MarkPendingNoAttempt(ctx, s.DB, item.ID, msg); err != nil {
			log.Error().Err(err).Msg("could not release claimed item")
		}
		return nil, procErr
	}

	var httpErr *scrape.HTTPError
	if errors.As(procErr, &httpErr) && httpErr.IsRateLimited() {
		if _, err := repo.MarkPendingNoAttempt(ctx, s.DB, item.ID, msg); err != nil {
			log.Error().Err(err).Msg("could not release claimed item")
		}
		log.Warn().Msg("source rate-limited the scraper, backing off")
		return &PublishResult{
			Status:     PublishStatusCooldown,
			Reason:     msg,
			RetryAfter: rateLimitRetryAfter,
		}, nil
	}

	var apiErr *rewrite.APIError
	if errors.As(procErr, &apiErr) && apiErr.IsAuth() {
		if _, err := repo.MarkPendingNoAttempt(ctx, s.DB, item.ID, msg); err != nil {
			log.Error().Err(err).Msg("could not release claimed item")
		}
		return nil, fmt.Errorf("%w: rewrite credentials rejected: %v", ErrConfig, procErr)
	}

	updated, err := repo.MarkFailed(ctx, s.DB, item.ID, msg, s.Policy.MaxAttempts)
	if err != nil {
		return nil, err
	}
	log.Warn().Err(procErr).Int("attempt_count", updated.AttemptCount).
		Str("status", updated.Status).Msg("publish attempt failed")
	return &PublishResult{Status: PublishStatusFailed, Reason: msg, Item: updated}, nil
}

// block marks the item blocked (terminal, budget pinned) and returns the
// benign blocked result.
func (s *PublishService) block(ctx context.Context, log zerolog.Logger, item *domain.SourceQueueItem, reason string) (*PublishResult, error) {
	updated, err := repo.MarkBlocked(ctx, s.DB, item.ID, reason, s.Policy.MaxAttempts)
	if err != nil {
		return nil, err
	}
	log.Info().Str("reason", reason).Msg("source blocked")
	return &PublishResult{Status: PublishStatusBlocked, Reason: reason, Item: updated}, nil
}

// lastBlockResult re-reads an item that materializeArticle marked blocked.
func (s *PublishService) lastBlockResult(ctx context.Context, item *domain.SourceQueueItem) (*PublishResult, error) {
	updated, err := repo.GetQueueItem(ctx, s.DB, item.ID)
	if err != nil {
		return nil, err
	}
	reason := ""
	if updated.LastError != nil {
		reason = *updated.LastError
	}
	return &PublishResult{Status: PublishStatusBlocked, Reason: reason, Item: updated}, nil
}

// cooldownRemaining returns how long the global publish cooldown still has
// to run, or zero when publishing is allowed.
func (s *PublishService) cooldownRemaining(ctx context.Context) (time.Duration, error) {
	if s.Cooldown <= 0 {
		return 0, nil
	}
	last, err := repo.LatestPublishedAt(ctx, s.DB)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	elapsed := time.Since(*last)
	if elapsed >= s.Cooldown {
		return 0, nil
	}
	return s.Cooldown - elapsed, nil
}

// canonicalShareURL builds the public share link commented under the social
// post. Empty when no site URL is configured.
func (s *PublishService) canonicalShareURL(slug string) string {
	if s.SiteURL == "" {
		return ""
	}
	return strings.TrimRight(s.SiteURL, "/") + "/share/" + slug
}

// buildCaption assembles the outbound social caption: headline, excerpt, and
// a category hashtag.
func buildCaption(title, excerpt, category string) string {
	parts := []string{strings.TrimSpace(title)}
	if e := strings.TrimSpace(excerpt); e != "" {
		parts = append(parts, e)
	}
	if tag := hashtag(category); tag != "" {
		parts = append(parts, tag)
	}
	return strings.Join(parts, "\n\n")
}

// hashtag turns a category into a single #tag, keeping letters and digits.
func hashtag(category string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(category)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "#" + b.String()
}
