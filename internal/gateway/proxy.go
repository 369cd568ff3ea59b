package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/whisperd/internal/domain"
)

var (
	// ErrServiceUnavailable means the processing tier could not be
	// reached at all: no job was created and submit may be retried by a
	// human, never automatically.
	ErrServiceUnavailable = errors.New("processing tier unavailable")
	// ErrUpstream means the processing tier answered with a server-side
	// failure.
	ErrUpstream = errors.New("processing tier error")
)

// ClientError preserves the semantics of an upstream 4xx response.
type ClientError struct {
	Status  int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("upstream rejected request: %d %s", e.Status, e.Message)
}

// Config tunes the proxy's connection pool and timeouts.
type Config struct {
	UpstreamURL     string
	MaxConns        int
	MaxConnsPerHost int
	IdleConnTimeout time.Duration
	// ConnectTimeout is short: fail fast when the destination is down.
	ConnectTimeout time.Duration
	// ReadTimeout is long: transcription responses can be slow.
	ReadTimeout time.Duration
}

// Proxy relays submit and poll calls to the processing tier over a
// bounded, keepalive connection pool. Submit is never retried here: a
// retry after a transport failure could create a duplicate job. Poll is
// read-only and safe for the caller to repeat.
type Proxy struct {
	client   *http.Client
	upstream string
	logger   *zap.Logger
}

func NewProxy(cfg Config, logger *zap.Logger) *Proxy {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        cfg.MaxConns,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	return &Proxy{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ReadTimeout,
		},
		upstream: strings.TrimRight(cfg.UpstreamURL, "/"),
		logger:   logger,
	}
}

// SubmitResult is the gateway's view of a successful submission.
type SubmitResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Submit streams a multipart body through to the processing tier.
func (p *Proxy) Submit(ctx context.Context, body io.Reader, contentType string, params url.Values) (SubmitResult, error) {
	target := p.upstream + "/v1/jobs"
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return SubmitResult{}, pkgerrors.Wrap(err, "build submit request")
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("submit transport failure", zap.Error(err))
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if err := mapStatus(resp); err != nil {
		return SubmitResult{}, err
	}

	var out SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SubmitResult{}, fmt.Errorf("%w: malformed submit response", ErrUpstream)
	}
	return out, nil
}

// Poll fetches the current job snapshot.
func (p *Proxy) Poll(ctx context.Context, id string) (domain.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.upstream+"/v1/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return domain.Job{}, pkgerrors.Wrap(err, "build poll request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if err := mapStatus(resp); err != nil {
		return domain.Job{}, err
	}

	var job domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return domain.Job{}, fmt.Errorf("%w: malformed poll response", ErrUpstream)
	}
	return job, nil
}

// mapStatus applies the gateway error-mapping policy to an upstream
// response: 404 -> NotFound, 5xx -> upstream error, other 4xx surfaced
// with their original semantics.
func mapStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrJobNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	default:
		return &ClientError{Status: resp.StatusCode, Message: readErrorBody(resp.Body)}
	}
}

func readErrorBody(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&payload); err != nil || payload.Error == "" {
		return "request rejected"
	}
	return payload.Error
}
