// Package xrtc provides an avatar provider backed by a virtual-human
// rendering service. It prefers the service's low-latency realtime channel
// and falls back to progressive HTTP video when the channel cannot be
// negotiated. It implements the avatar.Provider interface.
package xrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/mockmate-ai/mockmate/pkg/provider/avatar"
)

const (
	defaultTimeout = 30 * time.Second

	renderPath    = "/v1/avatar/render"
	negotiatePath = "/v1/avatar/negotiate"
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithRealtimeDisabled turns off realtime channel negotiation; all renderings
// come back as progressive HTTP streams.
func WithRealtimeDisabled() Option {
	return func(p *Provider) {
		p.realtimeDisabled = true
	}
}

// Provider implements avatar.Provider against a virtual-human rendering
// service.
type Provider struct {
	baseURL          string
	wsBaseURL        string
	token            string
	client           *http.Client
	realtimeDisabled bool
}

// New creates a new Provider. baseURL is the HTTP API root (e.g.,
// "https://avatar.example.com"); wsBaseURL is the realtime channel root
// (e.g., "wss://avatar.example.com"). token authenticates both.
func New(baseURL, wsBaseURL, token string, opts ...Option) (*Provider, error) {
	if baseURL == "" || token == "" {
		return nil, errors.New("xrtc: baseURL and token must not be empty")
	}
	p := &Provider{
		baseURL:   baseURL,
		wsBaseURL: wsBaseURL,
		token:     token,
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.wsBaseURL == "" {
		p.realtimeDisabled = true
	}
	return p, nil
}

// renderRequest is the JSON body for a render call.
type renderRequest struct {
	Text       string `json:"text,omitempty"`
	Expression string `json:"expression,omitempty"`
	Character  string `json:"character,omitempty"`
	Voice      string `json:"voice,omitempty"`
}

// renderResponse is the JSON result of a render call.
type renderResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	TaskID   string `json:"task_id"`
	VideoURL string `json:"video_url"`
}

// negotiateResult is the first message on the realtime negotiation channel.
type negotiateResult struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	StreamURL string `json:"stream_url"`
}

// Render implements avatar.Provider.
func (p *Provider) Render(ctx context.Context, text string, style avatar.Style) (*avatar.Rendering, error) {
	if text == "" {
		return nil, errors.New("xrtc: text must not be empty")
	}
	return p.render(ctx, renderRequest{
		Text:      text,
		Character: style.Character,
		Voice:     style.Voice,
	})
}

// RenderExpression implements avatar.Provider.
func (p *Provider) RenderExpression(ctx context.Context, kind string, style avatar.Style) (*avatar.Rendering, error) {
	switch kind {
	case avatar.ExpressionNod, avatar.ExpressionFrown, avatar.ExpressionTimer:
	default:
		return nil, fmt.Errorf("xrtc: unknown expression kind %q", kind)
	}
	return p.render(ctx, renderRequest{
		Expression: kind,
		Character:  style.Character,
		Voice:      style.Voice,
	})
}

// render submits the job over HTTP, then tries to upgrade the result to a
// realtime stream. Negotiation failure is not an error; the HTTP video URL
// is returned instead.
func (p *Provider) render(ctx context.Context, reqBody renderRequest) (*avatar.Rendering, error) {
	resp, err := p.submit(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	if !p.realtimeDisabled && resp.TaskID != "" {
		if streamURL, err := p.negotiate(ctx, resp.TaskID); err == nil {
			return &avatar.Rendering{
				StreamURL:  streamURL,
				StreamType: avatar.StreamTypeXRTC,
			}, nil
		}
	}

	if resp.VideoURL == "" {
		return nil, errors.New("xrtc: render returned neither stream nor video URL")
	}
	return &avatar.Rendering{
		StreamURL:  resp.VideoURL,
		StreamType: avatar.StreamTypeHTTP,
	}, nil
}

// submit posts the render job and decodes the response.
func (p *Provider) submit(ctx context.Context, reqBody renderRequest) (*renderResponse, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("xrtc: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+renderPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("xrtc: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xrtc: render request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("xrtc: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("xrtc: render returned status %d", httpResp.StatusCode)
	}

	var resp renderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("xrtc: decode response: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("xrtc: render error %d: %s", resp.Code, resp.Message)
	}
	return &resp, nil
}

// negotiate opens the realtime channel for a submitted task and reads the
// stream URL from the first server message.
func (p *Provider) negotiate(ctx context.Context, taskID string) (string, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.token)

	conn, _, err := websocket.Dial(ctx, p.wsBaseURL+negotiatePath+"?task_id="+taskID, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("xrtc: negotiate dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "negotiation complete")

	_, msg, err := conn.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("xrtc: negotiate read: %w", err)
	}

	var result negotiateResult
	if err := json.Unmarshal(msg, &result); err != nil {
		return "", fmt.Errorf("xrtc: decode negotiation: %w", err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("xrtc: negotiate error %d: %s", result.Code, result.Message)
	}
	if result.StreamURL == "" {
		return "", errors.New("xrtc: negotiation returned empty stream URL")
	}
	return result.StreamURL, nil
}

// Ensure Provider implements avatar.Provider at compile time.
var _ avatar.Provider = (*Provider)(nil)
