package gds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/Domenick1991/skyorder/config"
	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/sirupsen/logrus"
)

const unknownErrorDetail = "Unknown GDS API error"

// Caller is the authenticated call surface used by the search, pricing and
// booking services.
type Caller interface {
	Call(ctx context.Context, method, path string, body any, query url.Values) (json.RawMessage, error)
	CallWithAuthRetry(ctx context.Context, method, path string, body any, query url.Values) (json.RawMessage, error)
}

type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	log        logrus.FieldLogger
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(cfg config.GDSConfig, tokens TokenProvider, log logrus.FieldLogger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs one authenticated request. GET sends query as the query
// string; POST sends body as JSON with query appended to the URL. Any non-2xx
// answer becomes *domain.UpstreamAPIError with the upstream status.
func (c *Client) Call(ctx context.Context, method, path string, body any, query url.Values) (json.RawMessage, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, token, method, path, body, query)
}

// CallWithAuthRetry is Call plus one forced token refresh and retry when the
// GDS answers 401. Every other failure is returned as is.
func (c *Client) CallWithAuthRetry(ctx context.Context, method, path string, body any, query url.Values) (json.RawMessage, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, token, method, path, body, query)

	var apiErr *domain.UpstreamAPIError
	if err == nil || !errors.As(err, &apiErr) || !apiErr.Unauthorized() {
		return resp, err
	}

	c.log.WithField("endpoint", path).Warn("gds: unauthorized, refreshing token and retrying once")
	token, err = c.tokens.RefreshAccessToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, token, method, path, body, query)
}

func (c *Client) do(ctx context.Context, token, method, path string, body any, query url.Values) (json.RawMessage, error) {
	method = strings.ToUpper(method)
	target := c.baseURL + path

	var reader io.Reader
	switch method {
	case http.MethodGet:
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
	case http.MethodPost:
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode gds request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	default:
		return nil, fmt.Errorf("unsupported gds method %q", method)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build gds request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		status := http.StatusBadGateway
		if isTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		c.log.WithError(err).WithFields(logrus.Fields{"method": method, "endpoint": path}).Error("gds: request failed")
		return nil, &domain.UpstreamAPIError{Method: method, Endpoint: path, Status: status, Detail: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.UpstreamAPIError{Method: method, Endpoint: path, Status: http.StatusBadGateway, Detail: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &domain.UpstreamAPIError{Method: method, Endpoint: path, Status: resp.StatusCode, Detail: errorDetail(data)}
		c.log.WithFields(logrus.Fields{"method": method, "endpoint": path, "status": resp.StatusCode}).Warn(apiErr.Detail)
		return nil, apiErr
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(data), nil
}

// errorDetail pulls errors[0].detail out of the GDS error envelope.
func errorDetail(body []byte) string {
	var envelope struct {
		Errors []struct {
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Errors) == 0 || envelope.Errors[0].Detail == "" {
		return unknownErrorDetail
	}
	return envelope.Errors[0].Detail
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ Caller = (*Client)(nil)
