// Package xfyun provides an iFlytek-backed ASR provider using the real-time
// streaming WebSocket API. It implements the asr.Provider interface.
package xfyun

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/mockmate-ai/mockmate/pkg/provider/asr"
)

const (
	defaultEndpoint   = "wss://iat-api.xfyun.cn/v2/iat"
	defaultLanguage   = "zh_cn"
	defaultAccent     = "mandarin"
	defaultDomain     = "iat"
	defaultSampleRate = 16000
	defaultVADEndMS   = 3000
)

// Option is a functional option for configuring the xfyun Provider.
type Option func(*Provider)

// WithEndpoint overrides the streaming endpoint URL. Useful for tests and for
// regional API hosts.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithLanguage sets the recognition language code (e.g., "zh_cn", "en_us").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithAccent sets the accent hint for recognition.
func WithAccent(accent string) Option {
	return func(p *Provider) {
		p.accent = accent
	}
}

// Provider implements asr.Provider backed by the iFlytek streaming API.
type Provider struct {
	appID     string
	apiKey    string
	apiSecret string
	endpoint  string
	language  string
	accent    string
}

// New creates a new iFlytek Provider. All three credentials must be non-empty.
func New(appID, apiKey, apiSecret string, opts ...Option) (*Provider, error) {
	if appID == "" || apiKey == "" || apiSecret == "" {
		return nil, errors.New("xfyun: appID, apiKey, and apiSecret must not be empty")
	}
	p := &Provider{
		appID:     appID,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		endpoint:  defaultEndpoint,
		language:  defaultLanguage,
		accent:    defaultAccent,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with iFlytek.
// It respects cfg.SampleRate, cfg.Language, cfg.Accent, and cfg.VADEndOfSpeechMS.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	wsURL, err := p.signedURL(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("xfyun: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("xfyun: dial: %w", err)
	}

	sess := &session{
		conn:      conn,
		appID:     p.appID,
		cfg:       p.resolveConfig(cfg),
		results:   make(chan asr.Transcript, 64),
		audio:     make(chan []byte, 256),
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
		readDone:  make(chan struct{}),
		grace:     closeGrace,
	}

	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// resolveConfig fills zero-valued fields from provider defaults.
func (p *Provider) resolveConfig(cfg asr.StreamConfig) asr.StreamConfig {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.Language == "" {
		cfg.Language = p.language
	}
	if cfg.Accent == "" {
		cfg.Accent = p.accent
	}
	if cfg.VADEndOfSpeechMS == 0 {
		cfg.VADEndOfSpeechMS = defaultVADEndMS
	}
	return cfg
}

// signedURL builds the authenticated WebSocket URL. iFlytek authentication
// signs "host", "date", and the request line with HMAC-SHA256 over the API
// secret and passes the result as query parameters.
func (p *Provider) signedURL(now time.Time) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	date := now.Format("Mon, 02 Jan 2006 15:04:05 GMT")
	origin := fmt.Sprintf("host: %s\ndate: %s\nGET %s HTTP/1.1", u.Host, date, u.Path)

	mac := hmac.New(sha256.New, []byte(p.apiSecret))
	mac.Write([]byte(origin))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	auth := fmt.Sprintf(`api_key="%s", algorithm="hmac-sha256", headers="host date request-line", signature="%s"`,
		p.apiKey, signature)

	q := u.Query()
	q.Set("authorization", base64.StdEncoding.EncodeToString([]byte(auth)))
	q.Set("date", date)
	q.Set("host", u.Host)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// Frame statuses on the audio upload side.
const (
	frameFirst = 0
	frameCont  = 1
	frameLast  = 2
)

// audioFrame is the JSON structure sent to iFlytek for each audio chunk. The
// common and business sections are only present on the first frame.
type audioFrame struct {
	Common   *frameCommon   `json:"common,omitempty"`
	Business *frameBusiness `json:"business,omitempty"`
	Data     frameData      `json:"data"`
}

type frameCommon struct {
	AppID string `json:"app_id"`
}

type frameBusiness struct {
	Language string `json:"language"`
	Domain   string `json:"domain"`
	Accent   string `json:"accent"`
	VADEOS   int    `json:"vad_eos"`
}

type frameData struct {
	Status   int    `json:"status"`
	Format   string `json:"format"`
	Encoding string `json:"encoding"`
	Audio    string `json:"audio"`
}

// recognitionResponse is the JSON structure returned by iFlytek for each
// recognition update.
type recognitionResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
		Result struct {
			Ls bool `json:"ls"`
			Ws []struct {
				Bg int `json:"bg"`
				Cw []struct {
					W  string  `json:"w"`
					Sc float64 `json:"sc"`
				} `json:"cw"`
			} `json:"ws"`
		} `json:"result"`
	} `json:"data"`
}

// closeGrace bounds how long Close waits for the provider's final result
// after the end-of-stream frame.
const closeGrace = 5 * time.Second

// session is a live iFlytek streaming session. It implements asr.SessionHandle.
type session struct {
	conn    *websocket.Conn
	appID   string
	cfg     asr.StreamConfig
	results chan asr.Transcript
	audio   chan []byte

	done      chan struct{}
	writeDone chan struct{}
	readDone  chan struct{}
	grace     time.Duration
	once      sync.Once
}

// SendAudio queues a PCM audio chunk for delivery to iFlytek.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("xfyun: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("xfyun: session is closed")
	}
}

// Results returns the channel of recognition results.
func (s *session) Results() <-chan asr.Transcript { return s.results }

// Close terminates the session cleanly. The end-of-stream frame tells iFlytek
// to flush pending audio and commit the final result; the read side then gets
// a bounded window to deliver it before the connection is torn down, so a
// stalled peer cannot wedge session teardown.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// The end-of-stream frame goes out when the write loop exits.
		<-s.writeDone
		select {
		case <-s.readDone:
		case <-time.After(s.grace):
		}
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		// Closing the connection fails the pending read, so this cannot block.
		<-s.readDone
	})
	return nil
}

// writeLoop reads from the audio channel and sends framed messages to iFlytek.
// The first frame carries the app credentials and recognition parameters; the
// session-end frame is sent when the loop exits.
func (s *session) writeLoop(ctx context.Context) {
	defer close(s.writeDone)

	first := true
	send := func(chunk []byte) bool {
		frame := s.buildFrame(chunk, first)
		first = false
		msg, err := json.Marshal(frame)
		if err != nil {
			return false
		}
		return s.conn.Write(ctx, websocket.MessageText, msg) == nil
	}

	defer func() {
		// Tell the provider no more audio is coming so it commits the result.
		end, _ := json.Marshal(audioFrame{Data: frameData{
			Status:   frameLast,
			Format:   s.audioFormat(),
			Encoding: "raw",
		}})
		_ = s.conn.Write(ctx, websocket.MessageText, end)
	}()

	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if !send(chunk) {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					if !send(chunk) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// buildFrame constructs the upload frame for one audio chunk.
func (s *session) buildFrame(chunk []byte, first bool) audioFrame {
	frame := audioFrame{
		Data: frameData{
			Status:   frameCont,
			Format:   s.audioFormat(),
			Encoding: "raw",
			Audio:    base64.StdEncoding.EncodeToString(chunk),
		},
	}
	if first {
		frame.Data.Status = frameFirst
		frame.Common = &frameCommon{AppID: s.appID}
		frame.Business = &frameBusiness{
			Language: s.cfg.Language,
			Domain:   defaultDomain,
			Accent:   s.cfg.Accent,
			VADEOS:   s.cfg.VADEndOfSpeechMS,
		}
	}
	return frame
}

func (s *session) audioFormat() string {
	return fmt.Sprintf("audio/L16;rate=%d", s.cfg.SampleRate)
}

// readLoop receives JSON messages from iFlytek and dispatches them to the
// results channel.
func (s *session) readLoop(ctx context.Context) {
	defer close(s.readDone)
	defer close(s.results)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation.
			return
		}

		t, ok := parseRecognition(msg)
		if !ok {
			continue
		}

		select {
		case s.results <- t:
		case <-s.done:
		}
	}
}

// parseRecognition parses a raw recognition message into a Transcript.
// Returns (Transcript, true) on success, or (zero, false) if the message
// should be ignored.
func parseRecognition(data []byte) (asr.Transcript, bool) {
	var resp recognitionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return asr.Transcript{}, false
	}
	if resp.Code != 0 {
		return asr.Transcript{}, false
	}
	if len(resp.Data.Result.Ws) == 0 {
		return asr.Transcript{}, false
	}

	var sb strings.Builder
	var scoreSum float64
	var scoreN int
	start := -1
	for _, ws := range resp.Data.Result.Ws {
		if start < 0 {
			start = ws.Bg
		}
		for _, cw := range ws.Cw {
			sb.WriteString(cw.W)
			if cw.Sc > 0 {
				scoreSum += cw.Sc
				scoreN++
			}
		}
	}
	if sb.Len() == 0 {
		return asr.Transcript{}, false
	}

	t := asr.Transcript{
		Text:    sb.String(),
		IsFinal: resp.Data.Status == frameLast || resp.Data.Result.Ls,
	}
	if scoreN > 0 {
		// Word scores are reported on a 0-100 scale.
		t.Confidence = scoreSum / float64(scoreN) / 100
	}
	if start > 0 {
		t.Timestamp = time.Duration(start) * time.Millisecond
	}
	return t, true
}

// Ensure the types implement their interfaces at compile time.
var (
	_ asr.Provider      = (*Provider)(nil)
	_ asr.SessionHandle = (*session)(nil)
)
