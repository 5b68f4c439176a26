package resilience

import (
	"context"

	"github.com/mockmate-ai/mockmate/pkg/provider/chat"
)

// ChatFallback implements [chat.Provider] with bounded retries and automatic
// failover across multiple model backends. Each backend sits behind its own
// breaker; completions retry against the first healthy backend with an
// escalating per-attempt deadline before the next backend is tried.
type ChatFallback struct {
	group *Group[chat.Provider]
	retry RetryConfig
}

var _ chat.Provider = (*ChatFallback)(nil)

// NewChatFallback creates a [ChatFallback] with primary as the preferred
// backend. Zero-value retry and breaker fields use package defaults.
func NewChatFallback(primaryName string, primary chat.Provider, retry RetryConfig, breaker BreakerConfig) *ChatFallback {
	return &ChatFallback{
		group: NewGroup(primaryName, primary, breaker),
		retry: retry,
	}
}

// Add registers an additional backend, tried after all earlier ones.
func (f *ChatFallback) Add(name string, provider chat.Provider) {
	f.group.Add(name, provider)
}

// Complete sends the request to the first healthy backend. A backend's
// attempts are retried with escalating deadlines before failover; only when
// every backend is exhausted does the call fail.
func (f *ChatFallback) Complete(ctx context.Context, req chat.Request) (*chat.Response, error) {
	return GroupDo(f.group, func(p chat.Provider) (*chat.Response, error) {
		return RetryWithResult(ctx, f.retry, func(ctx context.Context) (*chat.Response, error) {
			return p.Complete(ctx, req)
		})
	})
}
