package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
	"github.com/noah-isme/robotask-client/pkg/middleware/requestid"
)

const maxResponseBytes = 8 << 20

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() string
}

// Observer receives one observation per outbound call.
type Observer interface {
	ObserveAPICall(method, path, outcome string, duration time.Duration)
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    Observer
}

// FilePart is the file section of a multipart request.
type FilePart struct {
	Field       string
	FileName    string
	ContentType string
	Content     io.Reader
}

// Multipart describes a multipart/form-data body.
type Multipart struct {
	Fields url.Values
	File   *FilePart
}

// Request describes one call to the task API. At most one of JSON, Form and
// Multipart is used. Token overrides the token source for this call.
type Request struct {
	Method       string
	Path         string
	Route        string
	Query        url.Values
	JSON         interface{}
	Form         url.Values
	Multipart    *Multipart
	RequiresAuth bool
	Token        string
}

// Client issues requests against the task API and normalises failures into
// *errors.Error values.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	metrics Observer

	mu             sync.RWMutex
	tokens         TokenSource
	onUnauthorized func(token string)
}

// New constructs a Client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// BaseURL returns the API root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetTokenSource registers the source consulted for authenticated calls.
func (c *Client) SetTokenSource(src TokenSource) {
	c.mu.Lock()
	c.tokens = src
	c.mu.Unlock()
}

// OnUnauthorized registers a hook invoked with the rejected token whenever an
// authenticated call is answered with 401.
func (c *Client) OnUnauthorized(fn func(token string)) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

func (c *Client) unauthorizedHook() func(string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.onUnauthorized
}

// Do performs the request and decodes a 2xx JSON body into out when out is
// not nil.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	route := req.Route
	if route == "" {
		route = req.Path
	}

	token := req.Token
	if req.RequiresAuth && token == "" {
		token = c.currentToken()
		if token == "" {
			c.observe(req.Method, route, appErrors.CodeUnauthorized, 0)
			return appErrors.Clone(appErrors.ErrUnauthenticated, "sign in required")
		}
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return appErrors.Wrap(err, appErrors.CodeValidation, http.StatusBadRequest, "could not encode request")
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return appErrors.Wrap(err, appErrors.CodeInternal, http.StatusInternalServerError, "could not build request")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(requestid.Header, requestid.FromContext(ctx))
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		appErr := transportError(ctx, err)
		c.finish(httpReq, route, appErr.Code, 0, start)
		return appErr
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		appErr := transportError(ctx, err)
		c.finish(httpReq, route, appErr.Code, resp.StatusCode, start)
		return appErr
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(bytes.TrimSpace(payload)) > 0 {
			if err := json.Unmarshal(payload, out); err != nil {
				c.finish(httpReq, route, appErrors.CodeAPI, resp.StatusCode, start)
				return appErrors.Wrap(err, appErrors.CodeAPI, resp.StatusCode, "unexpected response from server")
			}
		}
		c.finish(httpReq, route, "ok", resp.StatusCode, start)
		return nil
	}

	message := errorMessage(payload, resp.StatusCode)
	if resp.StatusCode == http.StatusUnauthorized && req.RequiresAuth {
		c.finish(httpReq, route, appErrors.CodeUnauthorized, resp.StatusCode, start)
		if hook := c.unauthorizedHook(); hook != nil {
			hook(token)
		}
		return appErrors.New(appErrors.CodeUnauthorized, http.StatusUnauthorized, message)
	}

	c.finish(httpReq, route, appErrors.CodeAPI, resp.StatusCode, start)
	return appErrors.API(resp.StatusCode, message)
}

func (c *Client) finish(req *http.Request, route, outcome string, status int, start time.Time) {
	duration := time.Since(start)
	c.observe(req.Method, route, outcome, duration)
	c.logger.Debug("api call",
		zap.String("method", req.Method),
		zap.String("path", route),
		zap.Int("status", status),
		zap.String("outcome", outcome),
		zap.Duration("latency", duration),
		zap.String("request_id", req.Header.Get(requestid.Header)),
	)
}

func (c *Client) observe(method, route, outcome string, duration time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveAPICall(method, route, outcome, duration)
	}
}

func encodeBody(req Request) (io.Reader, string, error) {
	switch {
	case req.Multipart != nil:
		return encodeMultipart(req.Multipart)
	case req.Form != nil:
		return strings.NewReader(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
	return nil, "", nil
}

func encodeMultipart(body *Multipart) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for key, values := range body.Fields {
		for _, value := range values {
			if err := writer.WriteField(key, value); err != nil {
				return nil, "", err
			}
		}
	}
	if file := body.File; file != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.FileName))
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if file.Content != nil {
			if _, err := io.Copy(part, file.Content); err != nil {
				return nil, "", err
			}
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf, writer.FormDataContentType(), nil
}

func transportError(ctx context.Context, err error) *appErrors.Error {
	ctxErr := ctx.Err()
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctxErr, context.DeadlineExceeded):
		return appErrors.Wrap(err, appErrors.CodeTimeout, appErrors.ErrTimeout.Status, appErrors.ErrTimeout.Message)
	case errors.Is(err, context.Canceled), errors.Is(ctxErr, context.Canceled):
		return appErrors.Wrap(err, appErrors.CodeSuperseded, appErrors.ErrSuperseded.Status, "request cancelled")
	case errors.As(err, &netErr) && netErr.Timeout():
		return appErrors.Wrap(err, appErrors.CodeTimeout, appErrors.ErrTimeout.Status, appErrors.ErrTimeout.Message)
	}
	return appErrors.Wrap(err, appErrors.CodeConnection, appErrors.ErrConnection.Status, appErrors.ErrConnection.Message)
}

// errorMessage extracts the server's explanation from an error body. FastAPI
// sends {"detail": "..."} or a validation list under detail; other servers
// use message or error. Anything else yields a status-based fallback.
func errorMessage(payload []byte, status int) string {
	fallback := fmt.Sprintf("request failed with status %d", status)
	if text := http.StatusText(status); text != "" {
		fallback = fmt.Sprintf("request failed: %s", strings.ToLower(text))
	}

	var body map[string]interface{}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fallback
	}
	for _, key := range []string{"detail", "message", "error"} {
		if msg := messageFrom(body[key]); msg != "" {
			return msg
		}
	}
	return fallback
}

func messageFrom(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if msg := messageFrom(item); msg != "" {
				parts = append(parts, msg)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]interface{}:
		for _, key := range []string{"msg", "message", "detail"} {
			if msg, ok := v[key].(string); ok && strings.TrimSpace(msg) != "" {
				return strings.TrimSpace(msg)
			}
		}
	}
	return ""
}
