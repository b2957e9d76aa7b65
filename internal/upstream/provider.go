// Package upstream talks to the box-office data provider. Responses are
// treated as opaque JSON documents.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultURLTemplate is the dashboard endpoint; %s receives the movie id.
const DefaultURLTemplate = "https://piaofang.maoyan.com/dashboard-ajax/movie?movieId=%s&orderType=0"

const maxBodyBytes = 8 << 20

// Provider fetches the current payload for one movie id.
type Provider interface {
	Fetch(ctx context.Context, movieID string) (json.RawMessage, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, movieID string) (json.RawMessage, error)

func (f ProviderFunc) Fetch(ctx context.Context, movieID string) (json.RawMessage, error) {
	return f(ctx, movieID)
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: HTTP error status %d", e.StatusCode)
}

// ErrInvalidJSON means the upstream answered 2xx with a body that is not JSON.
var ErrInvalidJSON = errors.New("upstream: response is not valid JSON")

// HTTPProvider fetches payloads over HTTP. One call is one request; it never
// retries.
type HTTPProvider struct {
	client      *http.Client
	urlTemplate string
	timeout     time.Duration
	header      http.Header
}

// NewHTTPProvider builds a provider. A nil client uses http.DefaultClient and
// an empty template uses DefaultURLTemplate.
func NewHTTPProvider(client *http.Client, urlTemplate string, timeout time.Duration) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if urlTemplate == "" {
		urlTemplate = DefaultURLTemplate
	}
	return &HTTPProvider{
		client:      client,
		urlTemplate: urlTemplate,
		timeout:     timeout,
		header:      defaultHeader(urlTemplate),
	}
}

// Fetch performs a single GET for movieID.
func (p *HTTPProvider) Fetch(ctx context.Context, movieID string) (json.RawMessage, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	target := p.urlFor(movieID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	for k, vs := range p.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: request %s: %w", movieID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("upstream: read body: %w", err)
	}
	if !json.Valid(body) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(body), nil
}

func (p *HTTPProvider) urlFor(movieID string) string {
	escaped := url.QueryEscape(movieID)
	if strings.Contains(p.urlTemplate, "%s") {
		return fmt.Sprintf(p.urlTemplate, escaped)
	}
	sep := "?"
	if strings.Contains(p.urlTemplate, "?") {
		sep = "&"
	}
	return p.urlTemplate + sep + "movieId=" + escaped
}

func defaultHeader(urlTemplate string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9")
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	if u, err := url.Parse(strings.ReplaceAll(urlTemplate, "%s", "0")); err == nil && u.Host != "" {
		origin := u.Scheme + "://" + u.Host
		h.Set("Origin", origin)
		h.Set("Referer", origin+"/dashboard/movie")
	}
	return h
}
