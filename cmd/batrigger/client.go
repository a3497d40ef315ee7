// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jontk/torus-allocator/pkg/auth"
	"github.com/jontk/torus-allocator/pkg/pool"
	"github.com/jontk/torus-allocator/pkg/retry"
)

// triggerClient submits a parsed triggerOptions request to the trigger
// manager collaborator and reports its response. This tool never talks to
// the bridge or the allocator core directly; it is a thin, validating
// front-end, same as the teacher's own CLI is to the REST API it drives.
type triggerClient interface {
	Submit(ctx context.Context, opts *triggerOptions) ([]triggerRecord, error)
}

// triggerRecord is one row of a --get listing or the echo of a --set/
// --clear acknowledgement.
type triggerRecord struct {
	ID      int64  `json:"id"`
	JobID   int64  `json:"job_id,omitempty"`
	Node    string `json:"node,omitempty"`
	User    string `json:"user,omitempty"`
	Event   string `json:"event"`
	Offset  int    `json:"offset"`
	Program string `json:"program"`
	Flags   string `json:"flags,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// httpTriggerClient is the concrete triggerClient, grounded on
// internal/bridgeapi.Client's pooled-and-authenticated HTTP transport: the
// same GetClient/authenticatedClient/retry.Do shape, pointed at the
// trigger manager's REST front-end instead of the bridge control plane.
type httpTriggerClient struct {
	baseURL string
	http    *http.Client
	retry   retry.Policy
}

func newHTTPTriggerClient(baseURL string, authProvider auth.Provider) *httpTriggerClient {
	p := pool.NewHTTPClientPool(pool.DefaultPoolConfig(), nil)
	return &httpTriggerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    authenticatedClient(p.GetClient(baseURL), authProvider),
		retry:   retry.NewBridgeCallPolicy(),
	}
}

func (c *httpTriggerClient) Submit(ctx context.Context, opts *triggerOptions) ([]triggerRecord, error) {
	switch opts.mode {
	case modeSet:
		var created triggerRecord
		if err := c.do(ctx, http.MethodPost, "/v1/triggers", wireRequest(opts), &created); err != nil {
			return nil, err
		}
		return []triggerRecord{created}, nil
	case modeGet:
		var records []triggerRecord
		if err := c.do(ctx, http.MethodGet, "/v1/triggers"+queryString(opts), nil, &records); err != nil {
			return nil, err
		}
		return records, nil
	case modeClear:
		if err := c.do(ctx, http.MethodDelete, "/v1/triggers"+queryString(opts), nil, nil); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func wireRequest(opts *triggerOptions) interface{} {
	return struct {
		Events  []string `json:"events"`
		JobID   int64    `json:"job_id,omitempty"`
		Node    string   `json:"node,omitempty"`
		User    string   `json:"user,omitempty"`
		Offset  int      `json:"offset,omitempty"`
		Program string   `json:"program"`
		Flags   string   `json:"flags,omitempty"`
	}{
		Events:  opts.events.names(),
		JobID:   opts.filters.jobID,
		Node:    opts.filters.node,
		User:    opts.filters.user,
		Offset:  opts.filters.offset,
		Program: opts.filters.program,
		Flags:   opts.filters.flags,
	}
}

func queryString(opts *triggerOptions) string {
	q := make([]string, 0, 4)
	if opts.filters.idSet {
		q = append(q, "id="+strconv.FormatInt(opts.filters.id, 10))
	}
	if opts.filters.jobIDSet {
		q = append(q, "job_id="+strconv.FormatInt(opts.filters.jobID, 10))
	}
	if opts.filters.user != "" {
		q = append(q, "user="+opts.filters.user)
	}
	if opts.filters.nodeSet {
		q = append(q, "node="+opts.filters.node)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + strings.Join(q, "&")
}

// do issues an HTTP request against the trigger manager, retrying
// according to c.retry, mirroring internal/bridgeapi.Client.do.
func (c *httpTriggerClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(encoded)
	}

	return retry.Do(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out != nil {
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
					return err
				}
			}
			return nil
		}

		var wireErr wireError
		_ = json.NewDecoder(resp.Body).Decode(&wireErr)
		if wireErr.Message == "" {
			wireErr.Message = "trigger manager returned status " + strconv.Itoa(resp.StatusCode)
		}
		return &triggerError{code: wireErr.Code, message: wireErr.Message}
	})
}

// triggerError reports a non-2xx trigger manager response; its presence is
// what drives batrigger's "non-zero on bridge failure" exit code.
type triggerError struct {
	code    string
	message string
}

func (e *triggerError) Error() string {
	if e.code == "" {
		return e.message
	}
	return e.code + ": " + e.message
}

// authenticatedClient wraps base so every outgoing request is authenticated,
// grounded on internal/bridgeapi.authenticatedClient/authTransport.
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
