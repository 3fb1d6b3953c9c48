// Package deepgram streams take audio to Deepgram's live listen endpoint for
// on-screen captions.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"zjobly/internal/ports"
)

const defaultBaseURL = "https://api.deepgram.com/v1"

// Config controls the Deepgram connection.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// DialAttempts bounds websocket connection attempts.
	DialAttempts int
	DialBackoff  time.Duration
	// KeepAlive is how long the socket may go without audio (a paused take)
	// before a KeepAlive message is sent. Deepgram drops idle sockets after 10s.
	KeepAlive time.Duration
}

// Provider implements ports.CaptionProvider.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	log    logrus.FieldLogger
}

func NewProvider(cfg Config, log logrus.FieldLogger) *Provider {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 3
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = 500 * time.Millisecond
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 8 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer, log: log.WithField("component", "captions")}
}

// StartStreaming opens a caption socket. The session closes when ctx ends.
func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}

	target, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	conn, err := p.dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("connect caption socket: %w", err)
	}
	p.log.WithField("model", p.cfg.Model).Debug("caption socket open")

	session := newSession(conn, p.cfg.KeepAlive, p.log)
	context.AfterFunc(ctx, func() { _ = session.Close() })
	return session, nil
}

// dial retries transient failures. Rejected credentials stop the retry.
func (p *Provider) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.DialBackoff
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.cfg.DialAttempts-1)), ctx)

	var conn *websocket.Conn
	attempt := func() error {
		c, resp, err := p.dialer.DialContext(ctx, target, headers)
		if err == nil {
			conn = c
			return nil
		}
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return backoff.Permanent(fmt.Errorf("deepgram rejected credentials (%d)", resp.StatusCode))
			}
		}
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		p.log.WithError(err).WithField("retry_in", wait).Warn("caption socket dial failed")
	}
	if err := backoff.RetryNotify(attempt, retry, onRetry); err != nil {
		return nil, err
	}
	return conn, nil
}

// buildListenURL maps the REST base onto the websocket listen endpoint.
// Raw PCM needs encoding parameters; containers (Ogg, WebM, ADTS) describe
// themselves.
func buildListenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(base, "/") + "/listen")
	if err != nil || parsed.Host == "" {
		if err == nil {
			err = errors.New("missing host")
		}
		return "", fmt.Errorf("invalid Deepgram API base URL %q: %w", base, err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	}

	query := url.Values{}
	query.Set("model", providerCfg.Model)
	if streamCfg.Encoding != "" || streamCfg.ContentType == "" {
		encoding := streamCfg.Encoding
		if encoding == "" {
			encoding = "linear16"
		}
		rate := streamCfg.SampleRate
		if rate <= 0 {
			rate = 16000
		}
		channels := streamCfg.Channels
		if channels <= 0 {
			channels = 1
		}
		query.Set("encoding", encoding)
		query.Set("sample_rate", strconv.Itoa(rate))
		query.Set("channels", strconv.Itoa(channels))
	}
	query.Set("interim_results", strconv.FormatBool(streamCfg.InterimResults))
	query.Set("smart_format", strconv.FormatBool(providerCfg.SmartFormat))
	if providerCfg.Language != "" {
		query.Set("language", providerCfg.Language)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
