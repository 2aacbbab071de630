// ABOUTME: Tests for SSE passthrough streaming and terminal error events
// ABOUTME: Simulates clean backend close and mid-stream connection loss

package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgate/mcpgate/internal/settings"
)

func sseDocument(serverURL string) *settings.Document {
	doc := settings.NewDocument()
	doc.Servers["notes"] = settings.ServerConfig{
		Name: "notes", Owner: "alice", Transport: settings.TransportSSE,
		URL: serverURL, Enabled: true,
	}
	return doc
}

func TestSSEPassthrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte("data: {\"n\":1}\n\n"))
		flusher.Flush()
		w.Write([]byte("data: {\"n\":2}\n\n"))
		flusher.Flush()
	}))
	defer backend.Close()

	rt := newTestRouter(t, sseDocument(backend.URL), "")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/notes", nil))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	body := rec.Body.String()
	assert.Contains(t, body, "data: {\"n\":1}\n\n")
	assert.Contains(t, body, "data: {\"n\":2}\n\n")
	// Clean backend close: no terminal error event.
	assert.NotContains(t, body, "\"type\":\"error\"")
}

func TestSSEResolvesServerURLVariables(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: ok\n\n"))
	}))
	defer backend.Close()

	doc := settings.NewDocument()
	doc.Servers["notes"] = settings.ServerConfig{
		Name: "notes", Owner: "alice", Transport: settings.TransportSSE,
		URL: backend.URL + "/${STREAM_PATH}", Enabled: true,
	}
	doc.SavedVariables = map[string]map[string]settings.SavedVariable{
		"alice": {"STREAM_PATH": {Key: "STREAM_PATH", Value: "custom-sse"}},
	}

	rt := newTestRouter(t, doc, "")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/notes", nil))

	assert.Equal(t, "/custom-sse", gotPath)
}

func TestSSETerminalErrorOnBrokenStream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		defer conn.Close()
		// Promise more bytes than delivered, then drop the connection.
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nContent-Length: 4096\r\n\r\n")
		buf.WriteString("data: {\"n\":1}\n\n")
		buf.Flush()
	}))
	defer backend.Close()

	rt := newTestRouter(t, sseDocument(backend.URL), "")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/notes", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "data: {\"n\":1}\n\n")
	assert.Equal(t, 1, strings.Count(body, "\"type\":\"error\""))
	assert.True(t, strings.HasSuffix(body, "\n\n"), "terminal event must be fully framed")
}

func TestSSETerminalErrorOnConnectFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close() // nothing listening anymore

	rt := newTestRouter(t, sseDocument(backend.URL), "")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/notes", nil))

	assert.Equal(t, 1, strings.Count(rec.Body.String(), "\"type\":\"error\""))
}

func TestSSEUnknownServer(t *testing.T) {
	rt := newTestRouter(t, settings.NewDocument(), "")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSSEStdioServerNotRoutable(t *testing.T) {
	doc := settings.NewDocument()
	doc.Servers["local"] = settings.ServerConfig{
		Name: "local", Owner: "alice", Transport: settings.TransportStdio,
		Command: "mcp-local", Enabled: true,
	}
	rt := newTestRouter(t, doc, "")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/local", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSSEGroupRoutesThroughUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sse/tools", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: group\n\n"))
	}))
	defer upstream.Close()

	doc := settings.NewDocument()
	doc.Servers["notes"] = settings.ServerConfig{
		Name: "notes", Owner: "alice", Transport: settings.TransportSSE,
		URL: "http://localhost:3001/sse", Enabled: true,
	}
	doc.Groups = []settings.Group{{ID: "g1", Name: "tools", Members: []settings.GroupMember{{ServerName: "notes"}}}}
	doc.System.Routing.EnableGroupNameRoute = true

	rt := newTestRouter(t, doc, upstream.URL)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/tools", nil))

	assert.Contains(t, rec.Body.String(), "data: group\n\n")
}

func TestSSEGroupRouteDisabled(t *testing.T) {
	doc := settings.NewDocument()
	doc.Groups = []settings.Group{{ID: "g1", Name: "tools"}}

	rt := newTestRouter(t, doc, "")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/tools", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSSEUnifiedRoute(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sse", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: unified\n\n"))
	}))
	defer upstream.Close()

	doc := settings.NewDocument()
	doc.System.Routing.EnableGlobalRoute = true

	rt := newTestRouter(t, doc, upstream.URL)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse", nil))

	assert.Contains(t, rec.Body.String(), "data: unified\n\n")
}

func TestSSESmartAliasRoutesUnified(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: unified\n\n"))
	}))
	defer upstream.Close()

	doc := settings.NewDocument()
	doc.System.Routing.EnableGlobalRoute = true

	rt := newTestRouter(t, doc, upstream.URL)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/$smart", nil))
	assert.Contains(t, rec.Body.String(), "data: unified\n\n")

	// The alias honors the same routing switch as the bare path.
	doc.System.Routing.EnableGlobalRoute = false
	rt2 := newTestRouter(t, doc, upstream.URL)
	rec2 := httptest.NewRecorder()
	rt2.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/sse/$smart", nil))
	assert.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestSSEKeepAlivePings(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte("data: first\n\n"))
		flusher.Flush()
		time.Sleep(150 * time.Millisecond)
		w.Write([]byte("data: second\n\n"))
		flusher.Flush()
	}))
	defer backend.Close()

	doc := settings.NewDocument()
	doc.Servers["notes"] = settings.ServerConfig{
		Name: "notes", Owner: "alice", Transport: settings.TransportSSE,
		URL: backend.URL, Enabled: true, KeepAliveIntervalMs: 25,
	}

	rt := newTestRouter(t, doc, "")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/notes", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "data: first\n\n")
	assert.Contains(t, body, "data: second\n\n")
	assert.Contains(t, body, ": keep-alive\n\n")
	assert.NotContains(t, body, "\"type\":\"error\"")
}
