package proxy

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"
)

// Cookie is one inbound cookie, kept in header order.
type Cookie struct {
	Name  string
	Value string
}

// FormField is one urlencoded body field, kept in body order.
type FormField struct {
	Name  string
	Value string
}

// InboundRequest is the gateway's view of a client request.
type InboundRequest struct {
	Method  string
	URL     string // path + query exactly as received
	Host    string
	Header  http.Header
	Cookies []Cookie
	Fields  []FormField
}

// IsMutation reports whether the request is a POST or PUT.
func (r *InboundRequest) IsMutation() bool {
	return r.Method == http.MethodPost || r.Method == http.MethodPut
}

// CookieHeader joins every cookie value as "cookie=<value>" with ";".
// Cookie names are not forwarded.
func (r *InboundRequest) CookieHeader() string {
	if len(r.Cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Cookies))
	for _, c := range r.Cookies {
		parts = append(parts, "cookie="+c.Value)
	}
	return strings.Join(parts, ";")
}

// FirstFieldName returns the name of the first body field, which is what gets
// forwarded as the upstream body. Its value is dropped.
func (r *InboundRequest) FirstFieldName() string {
	if len(r.Fields) == 0 {
		return ""
	}
	return r.Fields[0].Name
}

// InboundFromFiber extracts an InboundRequest from the Fiber context.
func InboundFromFiber(c fiber.Ctx) *InboundRequest {
	req := &InboundRequest{
		Method: c.Method(),
		URL:    c.OriginalURL(),
		Host:   string(c.Request().Host()),
		Header: http.Header{},
	}

	c.Request().Header.VisitAll(func(key, value []byte) {
		req.Header.Add(string(key), string(value))
	})
	c.Request().Header.VisitAllCookie(func(key, value []byte) {
		req.Cookies = append(req.Cookies, Cookie{Name: string(key), Value: string(value)})
	})

	if req.IsMutation() && isFormContentType(c.Get(fiber.HeaderContentType)) {
		req.Fields = parseFormFields(c.Body())
	}
	return req
}

func isFormContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), fiber.MIMEApplicationForm)
}

func parseFormFields(body []byte) []FormField {
	if len(body) == 0 {
		return nil
	}
	var args fasthttp.Args
	args.ParseBytes(body)

	fields := make([]FormField, 0, args.Len())
	args.VisitAll(func(key, value []byte) {
		fields = append(fields, FormField{Name: string(key), Value: string(value)})
	})
	return fields
}
