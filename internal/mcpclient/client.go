// Package mcpclient implements the client role of the JSON-RPC 2.0
// Streamable-HTTP protocol spoken by remote MCP servers (Wazuh, Falcon,
// Velociraptor bridges). One Client wraps one remote base URL.
package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrTransport wraps any network/HTTP-level failure talking to a remote
// MCP server. The dispatcher surfaces it as the tool result rather than
// letting it propagate as a panic.
var ErrTransport = errors.New("mcp transport error")

const protocolVersion = "2024-11-05"

// Client is a JSON-RPC 2.0 client for one remote MCP server reached over
// Streamable-HTTP. It owns its own HTTP client and mutable session id.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authHeader string
	authValue  string

	mu      sync.Mutex
	session models.MCPSession
}

// New creates a Client for baseURL. authHeader/authValue, if non-empty,
// are attached to every request (e.g. "Authorization"/"Bearer <token>").
func New(baseURL, authHeader, authValue string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	host, _ := hostHeaderFor(baseURL)
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		authHeader: authHeader,
		authValue:  authValue,
		session:    models.MCPSession{BaseURL: baseURL, HostHeader: host},
	}
}

// hostHeaderFor derives the "localhost:<port>" Host header value the
// remote server's DNS-rebinding allow-list requires, independent of the
// actual hostname used in the URL.
func hostHeaderFor(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return fmt.Sprintf("localhost:%s", port), nil
}

// ── JSON-RPC envelope shapes ─────────────────────────────────

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// ── Handshake ────────────────────────────────────────────────

// ensureSession performs the lazy initialize -> notifications/initialized
// handshake if no session id is held yet. Idempotent: a second call with a
// live session id is a no-op.
func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	hasSession := c.session.SessionID != ""
	c.mu.Unlock()
	if hasSession {
		return nil
	}

	initParams := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "hostwarden-dispatcher",
			"version": "1.0",
		},
	}
	resp, header, err := c.post(ctx, rpcRequest{JSONRPC: "2.0", ID: 0, Method: "initialize", Params: initParams}, false)
	if err != nil {
		return fmt.Errorf("%w: initialize: %v", ErrTransport, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: initialize rejected: %s", ErrTransport, resp.Error.Message)
	}

	sessionID := header.Get("Mcp-Session-Id")
	c.mu.Lock()
	c.session.SessionID = sessionID
	c.mu.Unlock()

	// fire-and-forget notification, no id, no response expected
	_, _, err = c.post(ctx, rpcRequest{JSONRPC: "2.0", Method: "notifications/initialized", Params: map[string]interface{}{}}, true)
	if err != nil {
		log.Warn().Err(err).Str("url", c.baseURL).Msg("notifications/initialized failed")
	}
	return nil
}

// post sends one JSON-RPC envelope and returns the decoded response plus
// response headers (for reading Mcp-Session-Id). fireAndForget requests
// don't expect a JSON body back.
func (c *Client) post(ctx context.Context, req rpcRequest, fireAndForget bool) (*rpcResponse, http.Header, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	c.mu.Lock()
	httpReq.Host = c.session.HostHeader
	if c.session.SessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", c.session.SessionID)
	}
	c.mu.Unlock()

	if c.authHeader != "" {
		httpReq.Header.Set(c.authHeader, c.authValue)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if fireAndForget {
		return &rpcResponse{}, resp.Header, nil
	}

	parsed, err := parseResponseBody(resp)
	if err != nil {
		return nil, resp.Header, err
	}
	return parsed, resp.Header, nil
}

// parseResponseBody handles both plain-JSON and SSE response shapes
// transparently, per §4.2's duality requirement.
func parseResponseBody(resp *http.Response) (*rpcResponse, error) {
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var out rpcResponse
			if err := json.Unmarshal([]byte(payload), &out); err == nil {
				return &out, nil
			}
		}
		// no line decoded as JSON -> empty tool list per §4.2
		return &rpcResponse{Result: json.RawMessage(`{"tools":[]}`)}, nil
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── Public operations ────────────────────────────────────────

// ListTools returns the remote server's advertised tools. Any failure
// clears the session id so the next call re-handshakes (§4.2).
func (c *Client) ListTools(ctx context.Context) ([]models.ToolDescriptor, error) {
	if err := c.ensureSession(ctx); err != nil {
		c.clearSession()
		return nil, err
	}

	resp, _, err := c.post(ctx, rpcRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: "tools/list", Params: map[string]interface{}{}}, false)
	if err != nil {
		c.clearSession()
		return nil, fmt.Errorf("%w: tools/list: %v", ErrTransport, err)
	}
	if resp.Error != nil {
		c.clearSession()
		return nil, fmt.Errorf("%w: tools/list rejected: %s", ErrTransport, resp.Error.Message)
	}

	var shape struct {
		Tools []models.ToolDescriptor `json:"tools"`
	}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &shape); err != nil {
			c.clearSession()
			return nil, fmt.Errorf("%w: decode tools/list: %v", ErrTransport, err)
		}
	}
	return shape.Tools, nil
}

// CallTool invokes one tool and returns its raw JSON-RPC result. Transport
// errors clear the session id and propagate to the dispatcher (§4.2's
// failure semantics) rather than being swallowed here.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	if err := c.ensureSession(ctx); err != nil {
		c.clearSession()
		return nil, err
	}

	params := map[string]interface{}{"name": name, "arguments": args}
	resp, _, err := c.post(ctx, rpcRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: "tools/call", Params: params}, false)
	if err != nil {
		c.clearSession()
		return nil, fmt.Errorf("%w: tools/call: %v", ErrTransport, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tool validation error (%d): %s", resp.Error.Code, resp.Error.Message)
	}

	var result map[string]interface{}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("%w: decode tools/call result: %v", ErrTransport, err)
		}
	}
	return result, nil
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.session.SessionID = ""
	c.mu.Unlock()
}

// JSON-RPC error codes the remote server may return, per the protocol.
const (
	ErrCodeMethodNotFound  = -32601
	ErrCodeInvalidParams   = -32602
	ErrCodeSessionRequired = -32001
	ErrCodeSessionExpired  = -32002
	ErrCodeInternal        = -32603
)
