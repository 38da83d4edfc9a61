// Package api implements the HTTP transport between the offsync client and
// the reference server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/offsync/internal/client/transport"
	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/pkg/api"
)

// DefaultTimeout таймаут одного HTTP запроса
const DefaultTimeout = 30 * time.Second

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	now        func() time.Time
	baseURL    string
	token      string
}

var _ transport.Transport = (*Client)(nil)

// Option настраивает Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient создает новый API клиент
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send applies a queued operation on the server. Client errors that a retry
// cannot fix are wrapped with transport.Permanent.
func (c *Client) Send(ctx context.Context, op models.PendingOperation) (transport.Result, error) {
	req := api.OperationRequest{
		OperationID: op.ID,
		Kind:        string(op.Kind),
		Collection:  op.TargetCollection,
		EntityID:    op.TargetID,
	}
	if op.Kind != models.OperationDelete {
		payload, err := json.Marshal(op.Payload)
		if err != nil {
			return transport.Result{}, transport.Permanent(fmt.Errorf("failed to marshal payload: %w", err))
		}
		req.Payload = payload
	}

	var resp api.OperationResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/operations", req, &resp); err != nil {
		err = fmt.Errorf("send %s %s failed: %w", op.Kind, op.EntityKey(), err)
		var se *StatusError
		if errors.As(err, &se) && se.Permanent() {
			return transport.Result{}, transport.Permanent(err)
		}
		return transport.Result{}, err
	}
	return transport.Result{EntityID: resp.EntityID}, nil
}

// Fetch returns the server version of an entity, or nil when the server has
// no such document.
func (c *Client) Fetch(ctx context.Context, collection, id string) (*models.Value, error) {
	doc, err := c.GetDocument(ctx, collection, id)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	v, err := models.ParseValue(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document %s/%s: %w", collection, id, err)
	}
	return &v, nil
}

// GetDocument получает документ вместе с версией
func (c *Client) GetDocument(ctx context.Context, collection, id string) (*api.DocumentResponse, error) {
	var resp api.DocumentResponse
	path := fmt.Sprintf("/api/v1/collections/%s/%s", url.PathEscape(collection), url.PathEscape(id))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get document request failed: %w", err)
	}
	return &resp, nil
}

// Health проверяет доступность сервера
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	return &resp, nil
}

// checkToken fails fast on a token whose exp claim is in the past. The
// signature is not verified: only the server can do that.
func (c *Client) checkToken() error {
	if c.token == "" {
		return nil
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, claims); err != nil {
		// Непрозрачный токен: пусть проверяет сервер
		return nil
	}
	if claims.ExpiresAt != nil && !c.now().Before(claims.ExpiresAt.Time) {
		return ErrTokenExpired
	}
	return nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	if err := c.checkToken(); err != nil {
		return err
	}

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && (errResp.Message != "" || errResp.Error != "") {
			se.Message = errResp.Message
			if se.Message == "" {
				se.Message = errResp.Error
			}
		}
		return se
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
