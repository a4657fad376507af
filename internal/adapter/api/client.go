package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Temutjin2k/ride-hail-driver/internal/adapter/storage"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/models"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/types"
	"github.com/Temutjin2k/ride-hail-driver/pkg/logger"
	wrap "github.com/Temutjin2k/ride-hail-driver/pkg/logger/wrapper"
	"github.com/Temutjin2k/ride-hail-driver/pkg/metrics"
)

// Non-standard statuses the backend uses to invalidate a device or a
// session. Both force a local sign-out and are never retried.
const (
	StatusDeviceMismatch    = 460
	StatusSessionTerminated = 461
)

const (
	headerFingerprint = "X-Device-Fingerprint"

	refreshPath = "/v1/auth/refresh"
)

// Store is the opaque key-value collaborator holding the credential and
// the cached identity snapshot.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// SignOutFunc is invoked on forced sign-out with a server-supplied message.
type SignOutFunc func(ctx context.Context, message string)

// APIError is a non-2xx response decoded from the backend.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

// Client wraps the request/response API channel. Every outbound request
// carries a device fingerprint and, if present, a bearer credential.
// An expired credential is renewed exactly once at a time: concurrent
// 401s park as waiters and are replayed against the renewed credential.
type Client struct {
	baseURL     string
	httpc       *http.Client
	store       Store
	fingerprint string
	onSignOut   SignOutFunc
	log         logger.Logger

	mu         sync.Mutex
	token      string
	refreshing bool
	waiters    []*waiter
}

type call struct {
	method string
	path   string
	body   []byte
}

type waiter struct {
	ctx  context.Context
	call *call
	ch   chan waitResult
}

type waitResult struct {
	resp *http.Response
	err  error
}

func NewClient(baseURL, fp string, store Store, onSignOut SignOutFunc, log logger.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		httpc:       &http.Client{Timeout: 15 * time.Second},
		store:       store,
		fingerprint: fp,
		onSignOut:   onSignOut,
		log:         log,
	}
}

// SetToken replaces the in-memory credential (used on session bootstrap
// and after login; refresh updates it internally).
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Do issues an authenticated request and decodes the JSON response into
// out (which may be nil). Non-2xx responses come back as *APIError,
// except the invalidation and renewal paths described on Client.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	const op = "api.Client.Do"

	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal body: %w", op, err)
		}
	}

	resp, err := c.execute(ctx, &call{method: method, path: path, body: body}, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}

	return nil
}

// execute performs one round trip, handling invalidation statuses and,
// unless this call was already retried, the 401 renewal path.
func (c *Client) execute(ctx context.Context, cl *call, retried bool) (*http.Response, error) {
	resp, err := c.roundTrip(ctx, cl)
	if err != nil {
		// network errors propagate unchanged
		return nil, err
	}

	switch {
	case resp.StatusCode == StatusDeviceMismatch || resp.StatusCode == StatusSessionTerminated:
		msg := readServerMessage(resp)
		resp.Body.Close()
		c.forceSignOut(ctx, msg)
		return nil, wrap.Error(ctx, types.ErrSessionInvalidated)

	case resp.StatusCode == http.StatusUnauthorized && !retried:
		resp.Body.Close()
		return c.recoverUnauthorized(ctx, cl)

	default:
		return resp, nil
	}
}

// recoverUnauthorized runs the single-flight renewal. At most one renewal
// call is outstanding; every other 401 parks here until it settles.
func (c *Client) recoverUnauthorized(ctx context.Context, cl *call) (*http.Response, error) {
	c.mu.Lock()
	if c.refreshing {
		w := &waiter{ctx: ctx, call: cl, ch: make(chan waitResult, 1)}
		c.waiters = append(c.waiters, w)
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-w.ch:
			return r.resp, r.err
		}
	}
	c.refreshing = true
	c.mu.Unlock()

	newToken, refreshErr := c.refresh(ctx)

	// The in-flight flag clears on completion regardless of outcome.
	c.mu.Lock()
	c.refreshing = false
	parked := c.waiters
	c.waiters = nil
	if refreshErr == nil {
		c.token = newToken
	}
	c.mu.Unlock()

	if refreshErr != nil {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultFailure).Inc()
		for _, w := range parked {
			w.ch <- waitResult{err: types.ErrTokenRefreshFailed}
		}
		c.forceSignOut(ctx, "credential renewal failed")
		return nil, wrap.Error(ctx, types.ErrTokenRefreshFailed)
	}

	metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	if err := c.store.Set(storage.KeyCredential, newToken); err != nil {
		c.log.Warn(ctx, "failed to persist renewed credential", "err", err.Error())
	}

	// Replay parked requests with the new credential, each marked retried.
	for _, w := range parked {
		go func(w *waiter) {
			resp, err := c.execute(w.ctx, w.call, true)
			w.ch <- waitResult{resp: resp, err: err}
		}(w)
	}

	return c.execute(ctx, cl, true)
}

// refresh calls the renewal endpoint. No body; the stale bearer and the
// fingerprint identify the session.
func (c *Client) refresh(ctx context.Context) (string, error) {
	const op = "api.Client.refresh"
	ctx = wrap.WithAction(ctx, "token_refresh")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	c.setHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	var out models.RefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s: decode: %w", op, err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%s: empty access token in response", op)
	}

	if out.GraceToken {
		c.log.Warn(ctx, "backend issued a short-lived grace token")
	}

	return out.AccessToken, nil
}

func (c *Client) roundTrip(ctx context.Context, cl *call) (*http.Response, error) {
	var body io.Reader
	if len(cl.body) > 0 {
		body = bytes.NewReader(cl.body)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return nil, err
	}
	if len(cl.body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req)

	return c.httpc.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set(headerFingerprint, c.fingerprint)
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) forceSignOut(ctx context.Context, message string) {
	ctx = wrap.WithAction(ctx, "forced_sign_out")

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	if err := c.store.Remove(storage.KeyCredential); err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		c.log.Warn(ctx, "failed to remove credential", "err", err.Error())
	}
	if err := c.store.Remove(storage.KeyIdentity); err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		c.log.Warn(ctx, "failed to remove identity snapshot", "err", err.Error())
	}

	c.log.Warn(ctx, "signed out by the backend", "reason", message)

	if c.onSignOut != nil {
		c.onSignOut(ctx, message)
	}
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
		apiErr.Message = resp.Status
	}
	return apiErr
}

func readServerMessage(resp *http.Response) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Message == "" {
		return resp.Status
	}
	return payload.Message
}
