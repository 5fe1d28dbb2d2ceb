package progressapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/ibam/learnsync/core"
	"github.com/ibam/learnsync/core/deadletter"
	"github.com/ibam/learnsync/recovery"
)

const (
	pathHealth      = "/api/health"
	pathDeadLetters = "/api/recovery/dead-letters"
)

var endpoints = map[recovery.OperationType]string{
	recovery.OpProgressUpdate:  "/api/progress/update",
	recovery.OpFormSave:        "/api/forms/save",
	recovery.OpSectionComplete: "/api/progress/complete-section",
}

type (
	// StatusError is a non 2xx answer of the progress API.
	StatusError struct {
		Method     string
		Path       string
		StatusCode int
		Body       string
	}

	unknownOperationError struct {
		typ recovery.OperationType
	}

	// Client sends recovery operations to the progress API over sendgrid/rest.
	Client struct {
		baseURL string
		rest    *rest.Client
	}
)

var _ recovery.Client = (*Client)(nil)

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Permanent reports whether retrying cannot succeed: any 4xx except timeouts and rate limits.
func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

func (e unknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation type %q", e.typ)
}

func (unknownOperationError) Permanent() bool { return true }

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		rest:    &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
	}
}

func NewClient(conf *core.Config) *Client {
	return New(conf.Client.APIBaseURL, conf.Client.RequestTimeout)
}

func (c *Client) do(ctx context.Context, method rest.Method, path string, body []byte) (*rest.Response, error) {
	req := rest.Request{
		Method:  method,
		BaseURL: c.baseURL + path,
		Headers: map[string]string{
			"Accept":        "application/json",
			"Cache-Control": "no-cache",
		},
	}
	if body != nil {
		req.Headers["Content-Type"] = "application/json"
		req.Body = body
	}

	resp, err := c.rest.SendWithContext(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, &StatusError{Method: string(method), Path: path, StatusCode: resp.StatusCode, Body: errorMessage(resp.Body)}
	}
	return resp, nil
}

// errorMessage extracts the error of an API error body.
func errorMessage(body string) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(body), &e) == nil && e.Error != "" {
		return e.Error
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return strings.TrimSpace(body)
}

// Send posts the payload of op to the endpoint of its type.
func (c *Client) Send(ctx context.Context, op recovery.Operation) error {
	path, ok := endpoints[op.Type]
	if !ok {
		return unknownOperationError{typ: op.Type}
	}
	_, err := c.do(ctx, rest.Post, path, op.Payload)
	return err
}

// Ping checks that the API answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, rest.Method(http.MethodHead), pathHealth, nil)
	return err
}

func (c *Client) ReportDeadLetters(ctx context.Context, report deadletter.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "encoding dead letter report")
	}
	_, err = c.do(ctx, rest.Post, pathDeadLetters, body)
	return err
}
