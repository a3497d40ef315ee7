// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package bridgeapi implements bridge.Interface (spec.md §4.10) against an
// HTTP+WebSocket hardware control plane: every blocking operation is a REST
// call through a pooled, authenticated, retrying HTTP client, and Subscribe
// dials a WebSocket stream of state-change events. Grounded on the
// teacher's internal/factory client-construction idiom (auth-wrapped
// pooled transport, adapter-shaped method set) generalized from a
// multi-version SLURM REST adapter to a single bridge control-plane API.
package bridgeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/bridge"
	pkgcontext "github.com/jontk/torus-allocator/pkg/context"
	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
	"github.com/jontk/torus-allocator/pkg/logging"
	"github.com/jontk/torus-allocator/pkg/metrics"
	"github.com/jontk/torus-allocator/pkg/middleware"
	"github.com/jontk/torus-allocator/pkg/pool"
	"github.com/jontk/torus-allocator/pkg/retry"

	"github.com/jontk/torus-allocator/pkg/auth"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the bridge control plane's HTTP endpoint, e.g.
	// "http://bridged.local:6270".
	BaseURL string

	// Auth authenticates every outgoing request. Defaults to auth.NoAuth.
	Auth auth.Provider

	// Pool supplies the underlying pooled HTTP client. A pool is created
	// with pool.DefaultPoolConfig if nil.
	Pool *pool.HTTPClientPool

	// RetryPolicy governs retries of transient failures. Defaults to
	// retry.NewBridgeCallPolicy.
	RetryPolicy retry.Policy

	// Middleware wraps the pooled, authenticated transport before any
	// request leaves the process, e.g. pkg/middleware.Chain(WithLogging(...),
	// WithMetrics(...), WithCircuitBreaker(...)). Left nil, the transport is
	// unwrapped.
	Middleware middleware.Middleware

	// Timeouts bounds how long a request of each operation type may run
	// before its context is canceled. Defaults to
	// pkgcontext.DefaultTimeoutConfig if nil.
	Timeouts *pkgcontext.TimeoutConfig

	Log     logging.Logger
	Metrics metrics.Collector
}

// Client is the HTTP+WebSocket bridge.Interface implementation.
type Client struct {
	baseURL string
	auth    auth.Provider
	http    *http.Client
	retry   retry.Policy
	log     logging.Logger
	metrics metrics.Collector

	timeouts *pkgcontext.TimeoutConfig
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	authProvider := cfg.Auth
	if authProvider == nil {
		authProvider = auth.NewNoAuth()
	}
	log := cfg.Log
	if log == nil {
		log = logging.NewLogger(nil)
	}
	p := cfg.Pool
	if p == nil {
		p = pool.NewHTTPClientPool(pool.DefaultPoolConfig(), log)
	}
	retryPolicy := cfg.RetryPolicy
	if retryPolicy == nil {
		retryPolicy = retry.NewBridgeCallPolicy()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NoOpCollector{}
	}
	timeouts := cfg.Timeouts
	if timeouts == nil {
		timeouts = pkgcontext.DefaultTimeoutConfig()
	}

	httpClient := authenticatedClient(p.GetClient(cfg.BaseURL), authProvider)
	if cfg.Middleware != nil {
		httpClient = &http.Client{
			Timeout:       httpClient.Timeout,
			CheckRedirect: httpClient.CheckRedirect,
			Jar:           httpClient.Jar,
			Transport:     cfg.Middleware(httpClient.Transport),
		}
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		auth:     authProvider,
		http:     httpClient,
		retry:    retryPolicy,
		log:      log,
		metrics:  m,
		timeouts: timeouts,
	}
}

// wireBlockDesc is BlockDesc's JSON wire form.
type wireBlockDesc struct {
	ID       string           `json:"id"`
	MPs      []string         `json:"mps"`
	ConnType []block.ConnType `json:"conn_type"`
	IONodes  []int            `json:"io_nodes,omitempty"`
	Images   block.BlockImages `json:"images"`
}

func toWire(d bridge.BlockDesc) wireBlockDesc {
	return wireBlockDesc{ID: d.ID, MPs: d.MPs, ConnType: d.ConnType, IONodes: d.IONodes, Images: d.Images}
}

func fromWire(w wireBlockDesc) bridge.BlockDesc {
	return bridge.BlockDesc{ID: w.ID, MPs: w.MPs, ConnType: w.ConnType, IONodes: w.IONodes, Images: w.Images}
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (c *Client) Create(ctx context.Context, desc bridge.BlockDesc) (string, error) {
	var created wireBlockDesc
	err := c.do(ctx, pkgcontext.OpWrite, http.MethodPost, "/v1/blocks", toWire(desc), &created)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *Client) Boot(ctx context.Context, blockID string) error {
	return c.do(ctx, pkgcontext.OpWrite, http.MethodPost, "/v1/blocks/"+url.PathEscape(blockID)+"/boot", nil, nil)
}

func (c *Client) Free(ctx context.Context, blockID string) error {
	err := c.do(ctx, pkgcontext.OpWrite, http.MethodPost, "/v1/blocks/"+url.PathEscape(blockID)+"/free", nil, nil)
	if pkgerrors.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) Remove(ctx context.Context, blockID string) error {
	err := c.do(ctx, pkgcontext.OpWrite, http.MethodDelete, "/v1/blocks/"+url.PathEscape(blockID), nil, nil)
	if pkgerrors.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) AddUser(ctx context.Context, blockID, user string) error {
	path := "/v1/blocks/" + url.PathEscape(blockID) + "/users/" + url.PathEscape(user)
	return c.do(ctx, pkgcontext.OpWrite, http.MethodPut, path, nil, nil)
}

func (c *Client) RemoveUser(ctx context.Context, blockID, user string) error {
	path := "/v1/blocks/" + url.PathEscape(blockID) + "/users/" + url.PathEscape(user)
	return c.do(ctx, pkgcontext.OpWrite, http.MethodDelete, path, nil, nil)
}

func (c *Client) Modify(ctx context.Context, blockID, field, value string) error {
	body := struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}{Field: field, Value: value}
	return c.do(ctx, pkgcontext.OpWrite, http.MethodPatch, "/v1/blocks/"+url.PathEscape(blockID), body, nil)
}

func (c *Client) GetBlocks(ctx context.Context) ([]bridge.BlockDesc, error) {
	var wire []wireBlockDesc
	if err := c.do(ctx, pkgcontext.OpList, http.MethodGet, "/v1/blocks", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]bridge.BlockDesc, 0, len(wire))
	for _, w := range wire {
		out = append(out, fromWire(w))
	}
	return out, nil
}

func (c *Client) GetBlockState(ctx context.Context, blockID string) (block.State, error) {
	var resp struct {
		State block.State `json:"state"`
	}
	if err := c.do(ctx, pkgcontext.OpRead, http.MethodGet, "/v1/blocks/"+url.PathEscape(blockID)+"/state", nil, &resp); err != nil {
		return 0, err
	}
	return resp.State, nil
}

// do issues an HTTP request against the bridge control plane, bounded by
// the timeout c.timeouts assigns to opType, retrying according to
// c.retry, and decodes a JSON response body into out (if non-nil). A
// non-2xx response is decoded as a wireError and mapped to a
// *pkgerrors.BridgeError carrying the response's error code.
func (c *Client) do(ctx context.Context, opType pkgcontext.OperationType, method, path string, body, out interface{}) error {
	ctx, cancel := pkgcontext.WithTimeout(ctx, opType, c.timeouts)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.NewWithCause(pkgerrors.ErrorCodeInvalidInput, "encode request body", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	return retry.Do(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return pkgerrors.NewWithCause(pkgerrors.ErrorCodeInternalError, "build request", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return pkgerrors.NewWithCause(pkgerrors.ErrorCodeConnectionError, "bridge request failed", err)
		}
		defer resp.Body.Close()

		c.metrics.RecordResponse(method, path, resp.StatusCode, 0)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out != nil {
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
					return pkgerrors.NewWithCause(pkgerrors.ErrorCodeInconsistentData, "decode response", err)
				}
			}
			return nil
		}

		var wireErr wireError
		_ = json.NewDecoder(resp.Body).Decode(&wireErr)
		if wireErr.Code == "" {
			wireErr.Code = string(pkgerrors.ErrorCodeUnknown)
			wireErr.Message = "bridge returned status " + strconv.Itoa(resp.StatusCode)
		}
		be := pkgerrors.New(pkgerrors.ErrorCode(wireErr.Code), wireErr.Message)
		be.Details = wireErr.Details
		return be
	})
}

// authenticatedClient returns a copy of base whose transport applies auth
// to every outgoing request, grounded on the teacher's
// internal/factory.createAuthenticatedHTTPClient/authTransport.
func authenticatedClient(base *http.Client, provider auth.Provider) *http.Client {
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &http.Client{
		Timeout:       base.Timeout,
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Transport:     &authTransport{base: transport, auth: provider},
	}
}

type authTransport struct {
	base http.RoundTripper
	auth auth.Provider
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqCopy := req.Clone(req.Context())
	if t.auth != nil {
		_ = t.auth.Authenticate(req.Context(), reqCopy)
	}
	return t.base.RoundTrip(reqCopy)
}

