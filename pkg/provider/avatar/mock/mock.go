// Package mock provides a test double for the avatar.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/mockmate-ai/mockmate/pkg/provider/avatar"
)

// RenderCall records a single invocation of Render.
type RenderCall struct {
	// Ctx is the context passed to Render.
	Ctx context.Context
	// Text is the text passed to Render.
	Text string
	// Style is the style passed to Render.
	Style avatar.Style
}

// RenderExpressionCall records a single invocation of RenderExpression.
type RenderExpressionCall struct {
	// Ctx is the context passed to RenderExpression.
	Ctx context.Context
	// Kind is the expression kind passed to RenderExpression.
	Kind string
	// Style is the style passed to RenderExpression.
	Style avatar.Style
}

// Provider is a mock implementation of avatar.Provider.
type Provider struct {
	mu sync.Mutex

	// Rendering is returned by both Render and RenderExpression when the
	// corresponding error field is nil. If nil, a default HTTP rendering is
	// returned.
	Rendering *avatar.Rendering

	// RenderErr, if non-nil, is returned as the error from Render.
	RenderErr error

	// RenderExpressionErr, if non-nil, is returned as the error from
	// RenderExpression.
	RenderExpressionErr error

	// RenderCalls records every invocation of Render in order.
	RenderCalls []RenderCall

	// RenderExpressionCalls records every invocation of RenderExpression in
	// order.
	RenderExpressionCalls []RenderExpressionCall
}

// Render records the call and returns Rendering, RenderErr.
func (p *Provider) Render(ctx context.Context, text string, style avatar.Style) (*avatar.Rendering, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RenderCalls = append(p.RenderCalls, RenderCall{Ctx: ctx, Text: text, Style: style})
	if p.RenderErr != nil {
		return nil, p.RenderErr
	}
	return p.rendering(), nil
}

// RenderExpression records the call and returns Rendering, RenderExpressionErr.
func (p *Provider) RenderExpression(ctx context.Context, kind string, style avatar.Style) (*avatar.Rendering, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RenderExpressionCalls = append(p.RenderExpressionCalls, RenderExpressionCall{Ctx: ctx, Kind: kind, Style: style})
	if p.RenderExpressionErr != nil {
		return nil, p.RenderExpressionErr
	}
	return p.rendering(), nil
}

func (p *Provider) rendering() *avatar.Rendering {
	if p.Rendering != nil {
		cp := *p.Rendering
		return &cp
	}
	return &avatar.Rendering{
		StreamURL:  "https://mock.invalid/stream.mp4",
		StreamType: avatar.StreamTypeHTTP,
	}
}

// RenderCallCount returns the number of Render calls. Thread-safe.
func (p *Provider) RenderCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.RenderCalls)
}

// RenderExpressionCallCount returns the number of RenderExpression calls.
// Thread-safe.
func (p *Provider) RenderExpressionCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.RenderExpressionCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RenderCalls = nil
	p.RenderExpressionCalls = nil
}

// Ensure Provider implements avatar.Provider at compile time.
var _ avatar.Provider = (*Provider)(nil)
