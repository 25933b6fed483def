package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/textproto"
	"time"

	"golang.org/x/net/http2"
)

// ClientOptions 控制上游连接方式。
type ClientOptions struct {
	// H2C 使用明文 HTTP/2（prior knowledge）连接上游，上游需支持 h2c。
	H2C bool
}

// newTransport 复用长连接并集中配置连接超时；响应等待时间由调用方通过 context 控制。
func newTransport() *http.Transport {
	tr := &http.Transport{
		Proxy:                 nil,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext:           newDialer().DialContext,
	}
	return tr
}

// newH2CTransport 通过明文 TCP 直接发送 HTTP/2 前导，适用于 http:// 上游。
func newH2CTransport() *http2.Transport {
	dialer := newDialer()
	return &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		ReadIdleTimeout: 30 * time.Second,
		PingTimeout:     15 * time.Second,
	}
}

func newDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
}

// NewUpstreamClient 返回共享 http.Client，用于所有上游请求。
// Client 本身不设超时：超时为 0 的请求需要无限等待。
func NewUpstreamClient(opts ClientOptions) *http.Client {
	var transport http.RoundTripper = newTransport()
	if opts.H2C {
		transport = newH2CTransport()
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}
