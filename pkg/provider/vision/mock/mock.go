// Package mock provides a test double for the vision.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/mockmate-ai/mockmate/pkg/provider/vision"
)

// AnalyzeCall records a single invocation of Provider.Analyze.
type AnalyzeCall struct {
	// Ctx is the context passed to Analyze.
	Ctx context.Context
	// FrameSize is the byte length of the frame passed to Analyze.
	FrameSize int
}

// Provider is a mock implementation of vision.Provider.
type Provider struct {
	mu sync.Mutex

	// Emotion is returned by Analyze when AnalyzeErr is nil.
	Emotion vision.Emotion

	// AnalyzeErr, if non-nil, is returned as the error from Analyze.
	AnalyzeErr error

	// AnalyzeFunc, if non-nil, overrides Emotion/AnalyzeErr entirely.
	AnalyzeFunc func(ctx context.Context, jpeg []byte) (vision.Emotion, error)

	// AnalyzeCalls records every call to Analyze.
	AnalyzeCalls []AnalyzeCall
}

// Analyze records the call, then dispatches to AnalyzeFunc or the static
// Emotion/AnalyzeErr pair.
func (p *Provider) Analyze(ctx context.Context, jpeg []byte) (vision.Emotion, error) {
	p.mu.Lock()
	p.AnalyzeCalls = append(p.AnalyzeCalls, AnalyzeCall{Ctx: ctx, FrameSize: len(jpeg)})
	fn := p.AnalyzeFunc
	em, errv := p.Emotion, p.AnalyzeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, jpeg)
	}
	if errv != nil {
		return vision.Emotion{}, errv
	}
	return em, nil
}

// AnalyzeCallCount returns the number of Analyze calls. Thread-safe.
func (p *Provider) AnalyzeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.AnalyzeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnalyzeCalls = nil
}

// Ensure Provider implements vision.Provider at compile time.
var _ vision.Provider = (*Provider)(nil)
