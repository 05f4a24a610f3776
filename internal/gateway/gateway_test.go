package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexbackup/internal/bus"
	"github.com/aatumaykin/nexbackup/internal/metrics"
	"github.com/aatumaykin/nexbackup/internal/session"
	"github.com/aatumaykin/nexbackup/internal/tasks"
	"github.com/aatumaykin/nexbackup/internal/tools"
)

type nopCoordinators struct{ enabled []string }

func (n *nopCoordinators) Enable(_ context.Context, userID string, on bool) error {
	if on {
		n.enabled = append(n.enabled, userID)
	}
	return nil
}

type fixture struct {
	srv      *httptest.Server
	sessions *session.Registry
	bus      *bus.Bus
	store    *tasks.MemoryStore
	coords   *nopCoordinators
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		sessions: session.NewRegistry(session.Options{QueueCapacity: 16}),
		store:    tasks.NewMemoryStore(),
		coords:   &nopCoordinators{},
	}
	f.bus = bus.New(f.sessions, nil, nil)

	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterBackupTools(reg, tools.BackupDeps{
		Tasks:        f.store,
		Coordinators: f.coords,
		Sessions:     f.sessions,
	}))

	opts := Options{Heartbeat: time.Second, Sessions: f.sessions, Tools: reg}
	if mutate != nil {
		mutate(&opts)
	}
	f.srv = httptest.NewServer(New(opts).Handler())
	t.Cleanup(func() {
		f.sessions.Close()
		f.srv.Close()
	})
	return f
}

type stream struct {
	resp   *http.Response
	lines  *bufio.Reader
	cancel context.CancelFunc
}

func (f *fixture) openStream(t *testing.T, sessionID string) *stream {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/mcp", nil)
	require.NoError(t, err)
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	s := &stream{resp: resp, lines: bufio.NewReader(resp.Body), cancel: cancel}
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	return s
}

func (s *stream) next(t *testing.T) string {
	t.Helper()
	line, err := s.lines.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\n")
}

func (s *stream) expectOpen(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusOK, s.resp.StatusCode)
	assert.Equal(t, "text/event-stream", s.resp.Header.Get("Content-Type"))
	assert.Equal(t, "event: open", s.next(t))
	assert.Equal(t, "data: {}", s.next(t))
	assert.Equal(t, "", s.next(t))
}

func (f *fixture) rpc(t *testing.T, sessionID, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/mcp", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(bytes.TrimSpace(data)) == 0 {
		return resp, nil
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return resp, out
}

func TestSessionID(t *testing.T) {
	tests := []struct {
		header, fallback, want string
	}{
		{"abc", "default", "abc"},
		{" abc ", "default", "abc"},
		{"abc, def", "default", "abc"},
		{"", "default", "default"},
		{" , def", "default", "default"},
		{"", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SessionID(tt.header, tt.fallback), "header %q", tt.header)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestStream_DeliversBoundUserEvents(t *testing.T) {
	f := newFixture(t, nil)
	s := f.openStream(t, "s1")
	s.expectOpen(t)
	assert.Equal(t, "s1", s.resp.Header.Get(SessionHeader))

	f.sessions.Bind("alice", "s1")
	require.NoError(t, f.bus.PublishProgress("alice", "backup/job1", 0.6))
	require.NoError(t, f.bus.PublishMessage("alice", "Backup scheduled for a.txt on srv1", bus.LevelNone))

	line := s.next(t)
	require.True(t, strings.HasPrefix(line, "data: "), line)
	assert.JSONEq(t, `{"method":"notification/progress","params":{"progress":0.6,"progressToken":"backup/job1"}}`, strings.TrimPrefix(line, "data: "))
	assert.Equal(t, "", s.next(t))

	line = s.next(t)
	assert.Contains(t, line, `"method":"notification/message"`)
	assert.Contains(t, line, `"level":null`)
}

func TestStream_DefaultSessionID(t *testing.T) {
	f := newFixture(t, nil)
	s := f.openStream(t, "")
	s.expectOpen(t)

	_, ok := f.sessions.Lookup(DefaultSessionID)
	assert.True(t, ok)
}

func TestStream_Heartbeat(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Heartbeat = 20 * time.Millisecond })
	s := f.openStream(t, "s1")
	s.expectOpen(t)

	assert.Equal(t, ": ping", s.next(t))
}

func TestStream_SecondReaderConflict(t *testing.T) {
	f := newFixture(t, nil)
	s := f.openStream(t, "s1")
	s.expectOpen(t)

	resp, err := http.DefaultClient.Do(mustRequest(t, http.MethodGet, f.srv.URL+"/mcp", "s1"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDelete_EndsStream(t *testing.T) {
	f := newFixture(t, nil)
	s := f.openStream(t, "s1")
	s.expectOpen(t)

	resp, err := http.DefaultClient.Do(mustRequest(t, http.MethodDelete, f.srv.URL+"/mcp", "s1"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = s.lines.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)

	resp, err = http.DefaultClient.Do(mustRequest(t, http.MethodDelete, f.srv.URL+"/mcp", "s1"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStream_DeleteOnDisconnect(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.DeleteOnDisconnect = true
		o.Heartbeat = 20 * time.Millisecond
	})
	s := f.openStream(t, "s1")
	s.expectOpen(t)

	s.cancel()
	assert.Eventually(t, func() bool {
		_, ok := f.sessions.Lookup("s1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStream_DisconnectKeepsSession(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Heartbeat = 20 * time.Millisecond })
	s := f.openStream(t, "s1")
	s.expectOpen(t)

	sess, ok := f.sessions.Lookup("s1")
	require.True(t, ok)
	s.cancel()
	assert.Eventually(t, func() bool { return !sess.Attached() }, 2*time.Second, 10*time.Millisecond)

	_, ok = f.sessions.Lookup("s1")
	assert.True(t, ok)
}

func TestRPC_Initialize(t *testing.T) {
	f := newFixture(t, nil)
	resp, out := f.rpc(t, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)

	generated := resp.Header.Get(SessionHeader)
	assert.NotEmpty(t, generated)
	_, ok := f.sessions.Lookup(generated)
	assert.True(t, ok)

	result := out["result"].(map[string]any)
	assert.Equal(t, ProtocolVersion, result["protocolVersion"])
	assert.Equal(t, "nexbackup", result["serverInfo"].(map[string]any)["name"])
	assert.Contains(t, result["capabilities"], "tools")
	assert.EqualValues(t, 1, out["id"])
}

func TestRPC_Methods(t *testing.T) {
	f := newFixture(t, nil)

	resp, out := f.rpc(t, "s1", `{"jsonrpc":"2.0","id":"a","method":"ping"}`)
	assert.Equal(t, "s1", resp.Header.Get(SessionHeader))
	assert.Equal(t, map[string]any{}, out["result"])

	_, out = f.rpc(t, "s1", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	list := out["result"].(map[string]any)["tools"].([]any)
	assert.Len(t, list, 4)

	_, out = f.rpc(t, "s1", `{"jsonrpc":"2.0","id":3,"method":"resources/list"}`)
	rpcErr := out["error"].(map[string]any)
	assert.EqualValues(t, CodeMethodNotFound, rpcErr["code"])
	assert.Equal(t, "method not found", rpcErr["message"])

	resp, out = f.rpc(t, "s1", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Nil(t, out)

	_, out = f.rpc(t, "s1", `{not json`)
	assert.EqualValues(t, CodeParseError, out["error"].(map[string]any)["code"])
	assert.Nil(t, out["id"])

	_, out = f.rpc(t, "s1", `{"id":4,"method":"ping"}`)
	assert.EqualValues(t, CodeInvalidRequest, out["error"].(map[string]any)["code"])
}

func TestRPC_ToolsCall(t *testing.T) {
	f := newFixture(t, nil)

	_, out := f.rpc(t, "s1", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"setup_backup_task_agent","arguments":{"user_id":"alice"}}}`)
	result := out["result"].(map[string]any)
	assert.Nil(t, result["isError"])
	content := result["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "text", content["type"])
	assert.Contains(t, content["text"], "s1")

	bound, ok := f.sessions.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, "s1", bound)
	assert.Equal(t, []string{"alice"}, f.coords.enabled)

	_, out = f.rpc(t, "s1", `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"create_backup_task","arguments":{"user_id":"alice","files":["a.txt"],"servers":["srv1"],"frequency":"soon"}}}`)
	result = out["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])

	_, out = f.rpc(t, "s1", `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"format_disk"}}`)
	assert.EqualValues(t, CodeInvalidParams, out["error"].(map[string]any)["code"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New("nexbackup", reg)
	f := newFixture(t, func(o *Options) {
		o.Metrics = m
		o.Gatherer = reg
	})

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "nexbackup_sessions_active")
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	sessions := session.NewRegistry(session.Options{})
	srv := New(Options{Listen: "127.0.0.1:0", Sessions: sessions})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func mustRequest(t *testing.T, method, url, sessionID string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	req.Header.Set(SessionHeader, sessionID)
	return req
}
