package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/stalegate/stalegate/internal/cache"
	"github.com/stalegate/stalegate/internal/config"
	"github.com/stalegate/stalegate/internal/logging"
)

// backendStub 模拟被代理的后端：按需切换响应并记录每次请求。
type backendStub struct {
	server   *http.Server
	listener net.Listener
	URL      string
	Port     int

	mu       sync.Mutex
	status   int
	body     []byte
	requests []recordedRequest
}

type recordedRequest struct {
	Method string
	Path   string
	Cookie string
	Body   []byte
}

func newBackendStub(t *testing.T) *backendStub {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start backend stub listener: %v", err)
	}
	stub := &backendStub{listener: listener, status: http.StatusOK, body: []byte(`{"status":"OK"}`)}
	stub.server = &http.Server{Handler: http.HandlerFunc(stub.handle)}
	stub.URL = "http://" + listener.Addr().String()
	stub.Port = listener.Addr().(*net.TCPAddr).Port

	go func() {
		_ = stub.server.Serve(listener)
	}()
	t.Cleanup(stub.Close)
	return stub
}

func (s *backendStub) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.RequestURI(),
		Cookie: r.Header.Get("Cookie"),
		Body:   body,
	})
	status, payload := s.status, bytes.Clone(s.body)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func (s *backendStub) Respond(status int, body string) {
	s.mu.Lock()
	s.status = status
	s.body = []byte(body)
	s.mu.Unlock()
}

func (s *backendStub) Requests() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func (s *backendStub) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
	_ = s.listener.Close()
}

func TestGatewayFlowCachesAndFallsBack(t *testing.T) {
	backend := newBackendStub(t)
	app, storage := newFlowApp(t, backend.Port)

	backend.Respond(http.StatusOK, `{"status":"OK","data":[4,5]}`)
	status, body := flowRequest(t, app, httptest.NewRequest(http.MethodGet, "/items?id=1", nil))
	if status != http.StatusOK || body != `{"status":"OK","data":[4,5]}` {
		t.Fatalf("unexpected live response: %d %s", status, body)
	}
	cacheFile := filepath.Join(storage, "cache.items.id.1.json")
	if data, err := os.ReadFile(cacheFile); err != nil || string(data) != `{"status":"OK","data":[4,5]}` {
		t.Fatalf("unexpected cache file: %s (%v)", string(data), err)
	}

	backend.Respond(http.StatusInternalServerError, `{"status":"ERROR","message":"x"}`)
	status, body = flowRequest(t, app, httptest.NewRequest(http.MethodGet, "/items?id=1", nil))
	if status != http.StatusOK {
		t.Fatalf("expected fallback 200, got %d (%s)", status, body)
	}
	if body != `{"status":"OK","data":[4,5],"cachedResponse":true,"cachedError":null}` {
		t.Fatalf("unexpected fallback body: %s", body)
	}

	backend.Close()
	status, body = flowRequest(t, app, httptest.NewRequest(http.MethodGet, "/items?id=1", nil))
	if status != http.StatusOK || body != `{"status":"OK","data":[4,5],"cachedResponse":true}` {
		t.Fatalf("unexpected offline response: %d %s", status, body)
	}
}

func TestGatewayFlowPostSkipsCache(t *testing.T) {
	backend := newBackendStub(t)
	app, storage := newFlowApp(t, backend.Port)
	backend.Respond(http.StatusOK, `{"status":"OK","id":9}`)

	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"name":"x"}=`))
	req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "abc"})

	status, body := flowRequest(t, app, req)
	if status != http.StatusOK || body != `{"status":"OK","id":9}` {
		t.Fatalf("unexpected response: %d %s", status, body)
	}

	requests := backend.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected one backend request, got %d", len(requests))
	}
	if requests[0].Cookie != "cookie=abc" {
		t.Fatalf("unexpected cookie: %s", requests[0].Cookie)
	}
	if string(requests[0].Body) != `{"name":"x"}` {
		t.Fatalf("unexpected forwarded body: %s", string(requests[0].Body))
	}
	if entries, _ := os.ReadDir(storage); len(entries) != 0 {
		t.Fatalf("POST must not create cache files, found %d", len(entries))
	}
}

func TestGatewayFlowOverH2C(t *testing.T) {
	var protoMajor int32
	backend := httptest.NewServer(h2c.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.StoreInt32(&protoMajor, int32(r.ProtoMajor))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","h2":true}`))
	}), &http2.Server{}))
	defer backend.Close()

	port := backend.Listener.Addr().(*net.TCPAddr).Port
	app, storage := newFlowAppWithConfig(t, port, "UpstreamH2C = true")

	status, body := flowRequest(t, app, httptest.NewRequest(http.MethodGet, "/items", nil))
	if status != http.StatusOK || body != `{"status":"OK","h2":true}` {
		t.Fatalf("unexpected response: %d %s", status, body)
	}
	if got := atomic.LoadInt32(&protoMajor); got != 2 {
		t.Fatalf("expected backend to see HTTP/2, got HTTP/%d", got)
	}
	if _, err := os.Stat(filepath.Join(storage, "cache.items.json")); err != nil {
		t.Fatalf("expected cache file after h2c success: %v", err)
	}
}

func newFlowApp(t *testing.T, upstreamPort int) (*fiber.App, string) {
	t.Helper()
	return newFlowAppWithConfig(t, upstreamPort, "")
}

func newFlowAppWithConfig(t *testing.T, upstreamPort int, extra string) (*fiber.App, string) {
	t.Helper()
	storage := filepath.Join(t.TempDir(), "cachedFiles")
	path := writeConfigFile(t, fmt.Sprintf(`
UpstreamPort = %d
StoragePath = "%s"
CachedTimeout = "500ms"
EnableMetrics = false
%s
`, upstreamPort, storage, extra))

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		t.Fatalf("初始化缓存失败: %v", err)
	}
	logger := logging.Discard()
	gateway, err := buildGateway(cfg, store, logger)
	if err != nil {
		t.Fatalf("构建网关失败: %v", err)
	}
	app, err := newHTTPApp(cfg, gateway, logger)
	if err != nil {
		t.Fatalf("构建 Fiber 应用失败: %v", err)
	}
	return app, cfg.Global.StoragePath
}

func flowRequest(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestGatewayFlowCORSFromConfig(t *testing.T) {
	backend := newBackendStub(t)
	app, _ := newFlowAppWithConfig(t, backend.Port, `CORSOrigins = ["http://app.local"]`)

	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("Origin", "http://app.local")
	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://app.local" {
		t.Fatalf("expected CORS origin header, got %q", got)
	}
	if resp.Header.Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be allowed")
	}
}

func TestGatewayFlowWithoutCORS(t *testing.T) {
	backend := newBackendStub(t)
	app, _ := newFlowApp(t, backend.Port)

	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("Origin", "http://app.local")
	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("CORS must stay disabled without origins, got %q", got)
	}
}
