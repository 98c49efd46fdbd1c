// Package connectors holds the outbound integrations the step handlers
// delegate to: HTTP, SQL, email, and spreadsheets.
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxHTTPTimeout     = 60 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10MB
)

// Request describes one outbound HTTP call issued by a request step.
type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        any
	ContentType string // "json" (default), "form", "text"
	Timeout     time.Duration
}

// Response is the normalized result of an HTTP call. Body holds the
// decoded JSON value when the server answered with application/json,
// otherwise the raw text.
type Response struct {
	Status  int
	Headers map[string]string
	Body    any
}

// Map flattens the response for variable mapping.
func (r *Response) Map() map[string]any {
	return map[string]any{
		"status":  r.Status,
		"headers": r.Headers,
		"body":    r.Body,
	}
}

// HTTPConnector executes request steps with a bounded timeout. Tenant
// configured timeouts are clamped to a hard ceiling so a single flow
// cannot hold a turn open indefinitely.
type HTTPConnector struct {
	client *http.Client
}

// NewHTTPConnector creates a connector with a shared transport.
func NewHTTPConnector() *HTTPConnector {
	return &HTTPConnector{
		client: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
	}
}

// Do validates, executes, and normalizes one HTTP request.
func (c *HTTPConnector) Do(ctx context.Context, req Request) (*Response, error) {
	u, err := url.ParseRequestURI(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "invalid request url %q", req.URL)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if timeout > maxHTTPTimeout {
		timeout = maxHTTPTimeout
	}

	bodyReader, contentType, err := encodeBody(req.Body, req.ContentType)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, req.URL, bodyReader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnector, "failed to build request").WithCause(err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		code := schema.ErrCodeConnector
		if reqCtx.Err() == context.DeadlineExceeded {
			code = schema.ErrCodeTimeout
		}
		return nil, schema.NewErrorf(code, "request to %s failed: %v", req.URL, err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnector, "failed to read response body").WithCause(err)
	}

	return &Response{
		Status:  resp.StatusCode,
		Headers: flattenHeaders(resp.Header),
		Body:    parseBody(bodyBytes, resp.Header.Get("Content-Type")),
	}, nil
}

func encodeBody(body any, contentType string) (io.Reader, string, error) {
	if body == nil {
		return nil, "", nil
	}
	switch contentType {
	case "form":
		formData, ok := body.(map[string]any)
		if !ok {
			return nil, "", schema.NewError(schema.ErrCodeConfig, "form body must be an object")
		}
		vals := url.Values{}
		for k, v := range formData {
			vals.Set(k, fmt.Sprintf("%v", v))
		}
		return strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil
	case "text":
		return strings.NewReader(fmt.Sprintf("%v", body)), "text/plain", nil
	default: // json
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", schema.NewErrorf(schema.ErrCodeConfig, "failed to marshal body as JSON").WithCause(err)
		}
		return strings.NewReader(string(b)), "application/json", nil
	}
}

func parseBody(bodyBytes []byte, contentType string) any {
	if len(bodyBytes) == 0 {
		return nil
	}
	if strings.Contains(contentType, "application/json") {
		var parsed any
		if err := json.Unmarshal(bodyBytes, &parsed); err == nil {
			return parsed
		}
	}
	return string(bodyBytes)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
