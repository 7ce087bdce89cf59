// Guardrails for AI-rewritten articles.
//
// The model is asked for a fixed shape (line 1 = title, blank line, rest =
// body). Anything else is InvalidFormat. A parsed title is still rejected
// when it is empty, too short, a placeholder, label-prefixed, or effectively
// identical to the source headline — an unchanged headline defeats the point
// of rewriting and risks duplicate-content penalties. Rejection triggers one
// retry with an explicit "do not reuse this title" hint, then an algorithmic
// fallback derived from the rewritten body.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tbourn/go-news-backend/internal/textnorm"
)

var (
	// ErrInvalidFormat means the model response could not be parsed into a
	// title and a body.
	ErrInvalidFormat = errors.New("invalid rewrite format")

	// ErrTitleUnusable means both rewrite attempts and the derived fallback
	// produced a title indistinguishable from the source. The caller's policy
	// decides between failing hard and reusing the scraped original.
	ErrTitleUnusable = errors.New("rewritten title unusable")
)

const (
	minTitleRunes    = 8
	fallbackTitleMax = 110
)

// placeholder titles the model occasionally emits verbatim.
var placeholderTitles = map[string]struct{}{
	"title": {}, "titlu": {}, "untitled": {}, "headline": {},
}

// label prefixes that indicate the model echoed the instructions.
var labelPrefixes = []string{"title:", "titlu:", "headline:"}

// Output is a parsed, validated rewrite.
type Output struct {
	Title   string
	Content string
	// FallbackTitle is true when Title was derived from the body because the
	// model could not produce an acceptable headline.
	FallbackTitle bool
}

// Completer is the slice of Client the Rewriter needs; tests substitute it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Rewriter runs the rewrite-validate-retry-fallback chain.
type Rewriter struct {
	client       Completer
	maxSourceLen int
}

// NewRewriter wires the chain to a completion client. maxSourceLen caps the
// source content bytes included in the prompt.
func NewRewriter(client Completer, maxSourceLen int) *Rewriter {
	return &Rewriter{client: client, maxSourceLen: maxSourceLen}
}

// Rewrite rephrases an article. On success the returned title is guaranteed
// to differ meaningfully from sourceTitle. ErrTitleUnusable is returned when
// no acceptable title could be produced; other errors are upstream failures.
func (r *Rewriter) Rewrite(ctx context.Context, sourceTitle, sourceContent, category string) (*Output, error) {
	raw, err := r.client.Complete(ctx, r.buildPrompt(sourceTitle, sourceContent, category, ""))
	if err != nil {
		return nil, err
	}
	out, rejectReason, err := r.accept(raw, sourceTitle)
	if err != nil {
		return nil, err
	}
	if rejectReason == "" {
		return out, nil
	}

	// One retry, telling the model which title not to produce again.
	raw, err = r.client.Complete(ctx, r.buildPrompt(sourceTitle, sourceContent, category, out.Title))
	if err != nil {
		return nil, err
	}
	body := out.Content // first attempt parsed; keep its body for the fallback
	retried, retryReason, err := r.accept(raw, sourceTitle)
	switch {
	case err == nil && retryReason == "":
		return retried, nil
	case err == nil:
		body = retried.Content
		rejectReason = retryReason
	case !errors.Is(err, ErrInvalidFormat):
		return nil, err
	}

	// Fall back to a title derived from the rewritten body.
	derived := deriveTitle(body)
	if derived == "" || textnorm.TitlesLookSame(derived, sourceTitle) {
		return nil, fmt.Errorf("%w: %s", ErrTitleUnusable, rejectReason)
	}
	return &Output{Title: derived, Content: body, FallbackTitle: true}, nil
}

// buildPrompt renders the rewrite instruction. avoidTitle, when set, is a
// previously rejected headline the model must not repeat.
func (r *Rewriter) buildPrompt(sourceTitle, sourceContent, category, avoidTitle string) string {
	content := sourceContent
	if r.maxSourceLen > 0 && len(content) > r.maxSourceLen {
		content = content[:r.maxSourceLen]
	}

	parts := []string{
		"Rewrite the article below clearly and concisely, without copying whole sentences.",
		"Respond in exactly this format:",
		"Line 1: the headline",
		"Line 2: (blank)",
		"Rest: the article body (paragraphs separated by blank lines).",
		"The headline must be rephrased; do not reuse the source headline.",
	}
	if avoidTitle != "" {
		parts = append(parts,
			fmt.Sprintf("Your previous headline %q was rejected for being too close to the source. Produce a different one.", avoidTitle))
	}
	parts = append(parts,
		"",
		"Category: "+category,
		"",
		"Source headline: "+strings.TrimSpace(sourceTitle),
		"",
		"Source content:",
		content,
	)
	return strings.Join(parts, "\n")
}

// accept parses a raw model response and applies the title guardrails.
// A guardrail rejection returns a non-empty reason with the parsed output
// (so the retry can reference the bad title); malformed responses error.
func (r *Rewriter) accept(raw, sourceTitle string) (*Output, string, error) {
	out, err := Parse(raw)
	if err != nil {
		return nil, "", err
	}
	if reason := badTitleReason(out.Title); reason != "" {
		return out, reason, nil
	}
	if textnorm.TitlesLookSame(out.Title, sourceTitle) {
		return out, "title unchanged from source", nil
	}
	return out, "", nil
}

// Parse splits a raw response into title (first line) and body (the rest).
func Parse(raw string) (*Output, error) {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) < 2 {
		return nil, ErrInvalidFormat
	}
	title := strings.TrimSpace(lines[0])
	content := strings.TrimSpace(strings.Join(lines[1:], "\n"))
	if title == "" || content == "" {
		return nil, ErrInvalidFormat
	}
	return &Output{Title: title, Content: content}, nil
}

// badTitleReason rejects titles that are no headline at all.
func badTitleReason(title string) string {
	t := strings.TrimSpace(title)
	if t == "" {
		return "empty title"
	}
	if utf8.RuneCountInString(t) < minTitleRunes {
		return "title too short"
	}
	if _, ok := placeholderTitles[strings.ToLower(t)]; ok {
		return "placeholder title"
	}
	lower := strings.ToLower(t)
	for _, p := range labelPrefixes {
		if strings.HasPrefix(lower, p) {
			return "label-prefixed title"
		}
	}
	return ""
}

// deriveTitle builds a headline from the first sentence of the body,
// truncated with an ellipsis when the sentence runs long.
func deriveTitle(content string) string {
	text := strings.Join(strings.Fields(content), " ")
	if text == "" {
		return ""
	}
	// cut at the first sentence terminator that is followed by a space
	for i, r := range text {
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			text = text[:i]
			break
		}
	}
	text = strings.TrimRight(text, ".!? ")
	return textnorm.Excerpt(text, fallbackTitleMax)
}
