// Package httpgateway talks to a remote CRUD cart service over HTTP.
package httpgateway

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

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/gateway"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

const (
	SessionHeader = "X-Cart-Session"
	APIKeyHeader  = "X-Api-Key"

	defaultTimeout              = 10 * time.Second
	responseBodyReadLimit int64 = 1024
)

var (
	errBaseURLRequired = errors.New("cart service base url is required")
	// errNoContent marks a 2xx reply without a cart body.
	errNoContent = errors.New("cart service returned no cart body")
)

// Client is shared by every session; ForSession binds it to one cart.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPIKey sets the key sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return client, nil
}

// ForSession returns a gateway scoped to sessionID.
func (c *Client) ForSession(sessionID string) gateway.Gateway {
	return &Session{client: c, sessionID: sessionID}
}

// Session is the cart of one shopping session.
type Session struct {
	client    *Client
	sessionID string
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Session) FetchCart(ctx context.Context) (cart.Snapshot, error) {
	snap, err := s.do(ctx, http.MethodGet, "cart", nil)
	if err != nil {
		if errors.Is(err, errNoContent) {
			return cart.Snapshot{}, gateway.ErrNoCart
		}
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeRejected && typed.Status() == http.StatusNotFound {
			return cart.Snapshot{}, gateway.ErrNoCart
		}
		return cart.Snapshot{}, err
	}
	return snap, nil
}

func (s *Session) AddItem(ctx context.Context, productID string, quantity int) (cart.Snapshot, error) {
	return s.mutate(ctx, http.MethodPost, "cart/items", addItemRequest{ProductID: productID, Quantity: quantity})
}

func (s *Session) SetQuantity(ctx context.Context, productID string, quantity int) (cart.Snapshot, error) {
	return s.mutate(ctx, http.MethodPut, itemPath(productID), setQuantityRequest{Quantity: quantity})
}

func (s *Session) RemoveItem(ctx context.Context, productID string) (cart.Snapshot, error) {
	return s.mutate(ctx, http.MethodDelete, itemPath(productID), nil)
}

// mutate sends a change and returns the resulting cart. Services that
// acknowledge with an empty 2xx body are asked for the cart afterwards.
func (s *Session) mutate(ctx context.Context, method, path string, body any) (cart.Snapshot, error) {
	snap, err := s.do(ctx, method, path, body)
	if !errors.Is(err, errNoContent) {
		return snap, err
	}
	snap, err = s.FetchCart(ctx)
	if errors.Is(err, gateway.ErrNoCart) {
		return cart.Snapshot{}, nil
	}
	return snap, err
}

func itemPath(productID string) string {
	return "cart/items/" + url.PathEscape(productID)
}

func (s *Session) do(ctx context.Context, method, path string, body any) (cart.Snapshot, error) {
	if s == nil || s.client == nil {
		return cart.Snapshot{}, pkgerrors.New(pkgerrors.CodeDependency, "cart service client not configured")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return cart.Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal cart request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.client.buildURL(path), reader)
	if err != nil {
		return cart.Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build cart request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(SessionHeader, s.sessionID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.client.apiKey != "" {
		req.Header.Set(APIKeyHeader, s.client.apiKey)
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return cart.Snapshot{}, gateway.Network(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return cart.Snapshot{}, gateway.Rejected(resp.StatusCode, errorMessage(msg))
	}

	if resp.StatusCode == http.StatusNoContent {
		return cart.Snapshot{}, errNoContent
	}
	var snap cart.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		if errors.Is(err, io.EOF) {
			return cart.Snapshot{}, errNoContent
		}
		return cart.Snapshot{}, gateway.Network(fmt.Errorf("decode cart response: %w", err))
	}
	return snap, nil
}

// errorMessage extracts a message from either {"error":{"message":..}},
// {"message":..} or a plain text body.
func errorMessage(raw []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
}
