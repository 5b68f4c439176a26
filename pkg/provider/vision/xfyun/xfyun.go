// Package xfyun provides an iFlytek-backed facial expression provider using
// the expression recognition HTTP API. It implements the vision.Provider
// interface.
package xfyun

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mockmate-ai/mockmate/pkg/provider/vision"
)

const (
	defaultEndpoint = "https://tupapi.xfyun.cn/v1/expression"
	defaultTimeout  = 15 * time.Second
)

// Native label indices reported by the expression API, in wire order.
var labelTaxonomy = []string{
	vision.LabelNeutral,
	vision.LabelHappy,
	vision.LabelSad,
	vision.LabelAngry,
	vision.LabelSurprised,
	vision.LabelFearful,
	vision.LabelDisgusted,
}

// Option is a functional option for configuring the xfyun Provider.
type Option func(*Provider)

// WithEndpoint overrides the expression API endpoint. Useful for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// Provider implements vision.Provider backed by the iFlytek expression API.
type Provider struct {
	appID    string
	apiKey   string
	endpoint string
	client   *http.Client
	now      func() time.Time
}

// New creates a new iFlytek expression Provider. Both credentials must be
// non-empty.
func New(appID, apiKey string, opts ...Option) (*Provider, error) {
	if appID == "" || apiKey == "" {
		return nil, errors.New("xfyun: appID and apiKey must not be empty")
	}
	p := &Provider{
		appID:    appID,
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: defaultTimeout},
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// expressionResponse is the JSON structure returned by the expression API.
type expressionResponse struct {
	Code int    `json:"code"`
	Desc string `json:"desc"`
	Data struct {
		FileList []struct {
			Label int     `json:"label"`
			Rate  float64 `json:"rate"`
		} `json:"fileList"`
	} `json:"data"`
}

// Analyze posts the frame to the expression API and maps the dominant label
// onto the shared taxonomy.
func (p *Provider) Analyze(ctx context.Context, jpeg []byte) (vision.Emotion, error) {
	if len(jpeg) == 0 {
		return vision.Emotion{}, errors.New("xfyun: empty frame")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jpeg))
	if err != nil {
		return vision.Emotion{}, fmt.Errorf("xfyun: build request: %w", err)
	}
	p.signRequest(req, `{"image_name":"frame.jpg"}`)

	resp, err := p.client.Do(req)
	if err != nil {
		return vision.Emotion{}, fmt.Errorf("xfyun: expression request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return vision.Emotion{}, fmt.Errorf("xfyun: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return vision.Emotion{}, fmt.Errorf("xfyun: expression API returned status %d", resp.StatusCode)
	}

	return parseExpression(body)
}

// signRequest applies the header-based authentication scheme: X-Param is the
// base64 request parameters, X-CheckSum is MD5(apiKey + curTime + param).
func (p *Provider) signRequest(req *http.Request, param string) {
	curTime := strconv.FormatInt(p.now().Unix(), 10)
	encoded := base64.StdEncoding.EncodeToString([]byte(param))
	sum := md5.Sum([]byte(p.apiKey + curTime + encoded))

	req.Header.Set("X-Appid", p.appID)
	req.Header.Set("X-CurTime", curTime)
	req.Header.Set("X-Param", encoded)
	req.Header.Set("X-CheckSum", fmt.Sprintf("%x", sum))
	req.Header.Set("Content-Type", "image/jpeg")
}

// parseExpression maps an API response body onto a vision.Emotion.
func parseExpression(body []byte) (vision.Emotion, error) {
	var resp expressionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return vision.Emotion{}, fmt.Errorf("xfyun: decode response: %w", err)
	}
	if resp.Code != 0 {
		return vision.Emotion{}, fmt.Errorf("xfyun: expression API error %d: %s", resp.Code, resp.Desc)
	}
	if len(resp.Data.FileList) == 0 {
		return vision.Emotion{}, errors.New("xfyun: no face detected")
	}

	top := resp.Data.FileList[0]
	label := vision.LabelNeutral
	if top.Label >= 0 && top.Label < len(labelTaxonomy) {
		label = labelTaxonomy[top.Label]
	}
	return vision.Emotion{Label: label, Confidence: top.Rate}, nil
}

// Ensure Provider implements vision.Provider at compile time.
var _ vision.Provider = (*Provider)(nil)
