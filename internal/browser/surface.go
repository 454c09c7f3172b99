// Package browser defines the capability the agent uses to drive the remote
// booking site, plus a Chrome-backed implementation.
package browser

import (
	"context"
	"time"
)

// Surface is a single stateful page session on the remote site. It is not
// safe for concurrent use; the agent only ever runs one attempt at a time.
type Surface interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, target, value string) error
	Click(ctx context.Context, target string) error
	// ExtractText returns the text of the first element matching target.
	ExtractText(ctx context.Context, target string) (string, error)
	// ExtractTexts returns the text of every element matching target, in
	// document order. No match is an empty slice, not an error.
	ExtractTexts(ctx context.Context, target string) ([]string, error)
	CurrentSessionState(ctx context.Context) ([]byte, error)
	LoadSessionState(ctx context.Context, state []byte) error
}

// WithTimeout bounds every call on s by d. A non-positive d returns s.
func WithTimeout(s Surface, d time.Duration) Surface {
	if d <= 0 {
		return s
	}
	return &timed{next: s, d: d}
}

type timed struct {
	next Surface
	d    time.Duration
}

func (t *timed) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Navigate(ctx, url)
}

func (t *timed) Fill(ctx context.Context, target, value string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Fill(ctx, target, value)
}

func (t *timed) Click(ctx context.Context, target string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Click(ctx, target)
}

func (t *timed) ExtractText(ctx context.Context, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.ExtractText(ctx, target)
}

func (t *timed) ExtractTexts(ctx context.Context, target string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.ExtractTexts(ctx, target)
}

func (t *timed) CurrentSessionState(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.CurrentSessionState(ctx)
}

func (t *timed) LoadSessionState(ctx context.Context, state []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.LoadSessionState(ctx, state)
}
