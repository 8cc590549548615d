package provider

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nightlight-labs/lullaby/internal/logging"
)

var logger = logging.New("provider")

// maxBodySize caps how much of a response is read. Long stories and clips
// stay well below it.
var maxBodySize int64 = 32 << 20

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 30 * time.Second

// ClientConfig holds configuration options for creating HTTP clients
type ClientConfig struct {
	// Timeout specifies a time limit for a single call, separate from any
	// retry budget
	Timeout time.Duration

	// DialTimeout is the maximum amount of time a dial will wait for a connect to complete
	DialTimeout time.Duration

	// TLSHandshakeTimeout specifies the maximum amount of time to wait for a TLS handshake
	TLSHandshakeTimeout time.Duration

	// IdleConnTimeout is the maximum amount of time an idle connection will remain idle before closing itself
	IdleConnTimeout time.Duration

	MaxIdleConnsPerHost int
}

// DefaultClientConfig returns client settings for the given per-call timeout.
func DefaultClientConfig(timeout time.Duration) ClientConfig {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return ClientConfig{
		Timeout:             timeout,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 4,
	}
}

// NewHTTPClient creates the client shared by the HTTP providers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	config := DefaultClientConfig(timeout)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}
}

// Response is a successful (200) provider response.
type Response struct {
	Header http.Header
	Body   []byte
}

// Send executes a single request without retries. Transport failures and
// non-200 statuses come back as *Error.
func Send(ctx context.Context, client *http.Client, provider string, req *http.Request) (*Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		logger.Debug("Provider call failed", "provider", provider, "err", err, "elapsed", time.Since(start))
		return nil, Classify(provider, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, Classify(provider, err)
	}
	oversized := int64(len(body)) > maxBodySize
	if oversized {
		body = body[:maxBodySize]
	}

	logger.Debug("Provider call finished",
		"provider", provider,
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, FromStatus(provider, resp.StatusCode, resp.Header, body)
	}
	if oversized {
		return nil, Malformed(provider, fmt.Sprintf("response larger than %d bytes", maxBodySize))
	}
	return &Response{Header: resp.Header, Body: body}, nil
}
