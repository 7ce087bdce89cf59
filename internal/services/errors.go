// Package services defines the business logic of the publishing pipeline:
// enqueuing sources, claiming and publishing one source end to end, and
// serving published articles.
//
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers. Translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

var (
	// ErrInvalidSourceURL is returned when an enqueue request contains a URL
	// that is not an absolute http(s) URL.
	ErrInvalidSourceURL = errors.New("invalid source url")

	// ErrNoSourceURLs is returned when an enqueue request contains no usable
	// URLs at all.
	ErrNoSourceURLs = errors.New("no source urls provided")

	// ErrArticleNotFound indicates that the requested article does not exist
	// or is not published.
	ErrArticleNotFound = errors.New("article not found")

	// ErrConfig wraps misconfiguration and credential problems discovered
	// mid-pipeline (missing API key, expired page token). These halt an
	// automation run instead of burning per-item attempts.
	ErrConfig = errors.New("configuration error")

	// ErrRewriteRequired wraps a rewrite failure on a deployment where
	// rewriting is mandatory, so the failure propagates instead of silently
	// publishing scraped content.
	ErrRewriteRequired = errors.New("rewrite required but failed")
)
