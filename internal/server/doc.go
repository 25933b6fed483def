// Package server hosts the Fiber HTTP service, the request middleware chain
// (panic recovery, request IDs, CORS, admission control) and the shared
// upstream http.Client. It knows nothing about caching: every non-diagnostic
// request is handed to the injected ProxyHandler. Diagnostics live under the
// "/-/" prefix (health and Prometheus metrics) and never reach the proxy.
package server
