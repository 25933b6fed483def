package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stalegate/stalegate/internal/server"
)

// UpstreamResponse is a fully read backend response.
type UpstreamResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Forwarder sends inbound requests to the single backend.
type Forwarder struct {
	client  *http.Client
	baseURL string
}

// NewForwarder creates a Forwarder for baseURL (scheme://host:port, no path).
func NewForwarder(client *http.Client, baseURL string) (*Forwarder, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("upstream base url is required")
	}
	return &Forwarder{client: client, baseURL: baseURL}, nil
}

// Forward mirrors req to the backend. A zero timeout waits indefinitely; a
// positive one aborts the call once it elapses. Every failure to obtain a
// complete response is returned as *TransportError.
func (f *Forwarder) Forward(ctx context.Context, req *InboundRequest, timeout time.Duration) (*UpstreamResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target := f.targetURL(req.URL)
	out, err := f.buildRequest(ctx, req, target)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: target, Err: err}
	}

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: target, Err: err}
	}

	return &UpstreamResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (f *Forwarder) buildRequest(ctx context.Context, req *InboundRequest, target string) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if req.IsMutation() {
		body = strings.NewReader(req.FirstFieldName())
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(out.Header, req.Header)
	out.Header.Del("Accept-Encoding")
	out.Header.Del("Content-Length")
	out.Header.Del("Cookie")
	if cookie := req.CookieHeader(); cookie != "" {
		out.Header.Set("Cookie", cookie)
	}
	if req.Host != "" {
		out.Host = req.Host
	}
	return out, nil
}

func (f *Forwarder) targetURL(rawURL string) string {
	if !strings.HasPrefix(rawURL, "/") {
		rawURL = "/" + rawURL
	}
	return f.baseURL + rawURL
}
