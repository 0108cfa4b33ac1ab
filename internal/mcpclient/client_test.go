package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&out))
	return out
}

func TestListTools_HandshakeThenList(t *testing.T) {
	var sawInitialize, sawInitializedNotification, sawList bool
	var sessionID = "sess-123"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		method, _ := body["method"].(string)

		switch method {
		case "initialize":
			sawInitialize = true
			require.Equal(t, "localhost", stripPort(r.Host))
			w.Header().Set("Mcp-Session-Id", sessionID)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": float64(0), "result": map[string]interface{}{},
			})
		case "notifications/initialized":
			sawInitializedNotification = true
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			sawList = true
			require.Equal(t, sessionID, r.Header.Get("Mcp-Session-Id"))
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": "x",
				"result": map[string]interface{}{
					"tools": []map[string]interface{}{{"name": "get_wazuh_alerts"}},
				},
			})
		default:
			t.Fatalf("unexpected method %q", method)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", 0)
	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.True(t, sawInitialize)
	require.True(t, sawInitializedNotification)
	require.True(t, sawList)
	require.Len(t, tools, 1)
	require.Equal(t, "get_wazuh_alerts", tools[0].Name)
}

func TestListTools_SSEResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		method, _ := body["method"].(string)
		if method == "initialize" {
			w.Header().Set("Mcp-Session-Id", "s1")
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": float64(0), "result": map[string]interface{}{}})
			return
		}
		if method == "notifications/initialized" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: message\n"))
		w.Write([]byte(`data: {"jsonrpc":"2.0","id":"x","result":{"tools":[]}}` + "\n\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", 0)
	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Empty(t, tools)
}

func TestListTools_ClearsSessionOnFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		method, _ := body["method"].(string)
		if method == "initialize" {
			calls++
			w.Header().Set("Mcp-Session-Id", "sess-a")
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": float64(0), "result": map[string]interface{}{}})
			return
		}
		if method == "notifications/initialized" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		// tools/list always fails
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": "x",
			"error": map[string]interface{}{"code": ErrCodeInternal, "message": "boom"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", 0)
	_, err := c.ListTools(context.Background())
	require.Error(t, err)

	_, err = c.ListTools(context.Background())
	require.Error(t, err)
	require.Equal(t, 2, calls, "a cleared session must re-handshake on the next call")
}

func stripPort(hostport string) string {
	for i, c := range hostport {
		if c == ':' {
			return hostport[:i]
		}
	}
	return hostport
}
