package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/Paintersrp/streamsup/internal/api"
	"github.com/Paintersrp/streamsup/internal/metrics"
	"github.com/Paintersrp/streamsup/internal/supervise"
)

type fakeController struct {
	status  func(stdcontext.Context) (*api.StatusReport, error)
	restart func(stdcontext.Context, string) (*api.RestartResult, error)
}

func (f *fakeController) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	if f.status == nil {
		return &api.StatusReport{}, nil
	}
	return f.status(ctx)
}

func (f *fakeController) RestartMember(ctx stdcontext.Context, member string) (*api.RestartResult, error) {
	if f.restart == nil {
		return &api.RestartResult{Member: member}, nil
	}
	return f.restart(ctx, member)
}

func twoMembers(stdcontext.Context) (*api.StatusReport, error) {
	return &api.StatusReport{
		Mode:        "dual-stream",
		GeneratedAt: time.Unix(123, 0),
		Members: []api.MemberReport{
			{Name: "video", Running: true, Alive: true, PID: 41},
			{Name: "audio", Running: true, LastExit: &api.ExitReport{State: "exited", ExitCode: 1}},
		},
	}, nil
}

func serve(t *testing.T, ctrl api.Controller, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	server, err := NewServer(Config{Controller: ctrl})
	assert.NilError(t, err)
	rec := httptest.NewRecorder()
	server.srv.Handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	assert.NilError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestNewServerRequiresController(t *testing.T) {
	_, err := NewServer(Config{})
	assert.ErrorContains(t, err, "controller is required")
}

func TestNormalizeAddr(t *testing.T) {
	tests := map[string]string{
		"":           defaultAddr,
		":80":        "127.0.0.1:80",
		"0.0.0.0:80": "127.0.0.1:80",
		"[::]:80":    "127.0.0.1:80",
		"host:9000":  "host:9000",
		"[::1]:443":  "[::1]:443",
		"bogus":      "bogus",
	}
	for input, want := range tests {
		assert.Equal(t, normalizeAddr(input), want, "input %q", input)
	}
}

func TestStatusEndpoint(t *testing.T) {
	rec := serve(t, &fakeController{status: twoMembers}, http.MethodGet, "/api/v1/status")

	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Header().Get("Cache-Control"), "no-store")

	var body api.StatusReport
	assert.NilError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, body.Mode, "dual-stream")
	assert.Assert(t, is.Len(body.Members, 2))
	assert.Assert(t, body.Members[1].LastExit != nil)
	assert.Equal(t, body.Members[1].LastExit.ExitCode, 1)
}

func TestStatusEndpointError(t *testing.T) {
	ctrl := &fakeController{status: func(stdcontext.Context) (*api.StatusReport, error) {
		return nil, errors.New("boom")
	}}
	rec := serve(t, ctrl, http.MethodGet, "/api/v1/status")

	assert.Equal(t, rec.Code, http.StatusInternalServerError)
	body := decodeError(t, rec)
	assert.Equal(t, body.Code, "internal_error")
	assert.Equal(t, body.Message, "boom")
}

func TestStatusEndpointRejectsPost(t *testing.T) {
	rec := serve(t, &fakeController{}, http.MethodPost, "/api/v1/status")
	assert.Equal(t, rec.Code, http.StatusMethodNotAllowed)
	assert.Assert(t, is.Contains(rec.Header().Get("Allow"), http.MethodGet))
}

func TestMemberEndpoint(t *testing.T) {
	ctrl := &fakeController{status: twoMembers}

	rec := serve(t, ctrl, http.MethodGet, "/api/v1/members/video")
	assert.Equal(t, rec.Code, http.StatusOK)
	var member api.MemberReport
	assert.NilError(t, json.NewDecoder(rec.Body).Decode(&member))
	assert.Equal(t, member.Name, "video")
	assert.Equal(t, member.PID, 41)

	rec = serve(t, ctrl, http.MethodGet, "/api/v1/members/subtitles")
	assert.Equal(t, rec.Code, http.StatusNotFound)
	assert.Equal(t, decodeError(t, rec).Code, "unknown_member")
}

func TestRestartEndpoint(t *testing.T) {
	ctrl := &fakeController{restart: func(_ stdcontext.Context, member string) (*api.RestartResult, error) {
		assert.Equal(t, member, "audio")
		return &api.RestartResult{Member: member, PID: 77, Generation: 3}, nil
	}}
	rec := serve(t, ctrl, http.MethodPost, "/api/v1/members/audio/restart")

	assert.Equal(t, rec.Code, http.StatusOK)
	var body map[string]api.RestartResult
	assert.NilError(t, json.NewDecoder(rec.Body).Decode(&body))
	result, ok := body["restart"]
	assert.Assert(t, ok, "expected restart field in response")
	assert.Equal(t, result.Generation, 3)
	assert.Equal(t, result.PID, 77)
}

func TestRestartEndpointBlankMember(t *testing.T) {
	called := false
	ctrl := &fakeController{restart: func(stdcontext.Context, string) (*api.RestartResult, error) {
		called = true
		return nil, nil
	}}
	rec := serve(t, ctrl, http.MethodPost, "/api/v1/members/%20/restart")

	assert.Equal(t, rec.Code, http.StatusNotFound)
	assert.Assert(t, !called)
	body := decodeError(t, rec)
	assert.Equal(t, body.Code, "unknown_member")
	details, ok := body.Details.(map[string]any)
	assert.Assert(t, ok, "details were %T", body.Details)
	assert.Assert(t, is.Contains(details, "member"))
	assert.Assert(t, is.Contains(details, "timestamp"))
}

func TestRestartEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not active", api.ErrNotRunning, http.StatusConflict, "runner_not_active"},
		{"unknown", fmt.Errorf("%w: video", api.ErrUnknownMember), http.StatusNotFound, "unknown_member"},
		{"launch", &supervise.LaunchError{Member: "video", Command: []string{"ffmpeg"}, Err: errors.New("exec: not found")}, http.StatusBadGateway, "launch_failed"},
		{"canceled", stdcontext.Canceled, 499, "context_canceled"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := &fakeController{restart: func(stdcontext.Context, string) (*api.RestartResult, error) {
				return nil, tc.err
			}}
			rec := serve(t, ctrl, http.MethodPost, "/api/v1/members/video/restart")
			assert.Equal(t, rec.Code, tc.status)
			assert.Equal(t, decodeError(t, rec).Code, tc.code)
		})
	}
}

func TestHealthz(t *testing.T) {
	rec := serve(t, &fakeController{}, http.MethodGet, "/healthz")
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Assert(t, is.Contains(rec.Body.String(), `"ok"`))
}

func TestMetricsEndpoint(t *testing.T) {
	member := "http_metrics"
	metrics.SetProcessUp(member, true)
	metrics.IncrementRestart(member)
	metrics.EmitBuildInfo()

	rec := serve(t, &fakeController{}, http.MethodGet, "/metrics")
	assert.Equal(t, rec.Code, http.StatusOK)
	body := rec.Body.String()
	assert.Assert(t, is.Contains(body, `streamsup_process_up{member="http_metrics"} 1`))
	assert.Assert(t, is.Contains(body, `streamsup_process_restarts_total{member="http_metrics"} 1`))
	assert.Assert(t, is.Contains(body, "streamsup_build_info{"))
}

func TestRunServesUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	server, err := NewServer(Config{Controller: &fakeController{}, Listener: ln})
	assert.NilError(t, err)

	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	resp, err := http.Get("http://" + server.Addr() + "/healthz")
	assert.NilError(t, err)
	resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	cancel()
	select {
	case err := <-done:
		assert.NilError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestRunReportsListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()

	server, err := NewServer(Config{Controller: &fakeController{}, Addr: ln.Addr().String()})
	assert.NilError(t, err)
	err = server.Run(stdcontext.Background())
	assert.ErrorContains(t, err, "listen "+ln.Addr().String())
}

func TestListenBindsBeforeRun(t *testing.T) {
	server, err := NewServer(Config{Controller: &fakeController{}, Addr: "127.0.0.1:0"})
	assert.NilError(t, err)
	assert.NilError(t, server.Listen())
	addr := server.Addr()
	assert.Assert(t, addr != "127.0.0.1:0", "expected a concrete port, got %s", addr)
	assert.NilError(t, server.Listen())
	assert.Equal(t, server.Addr(), addr)

	busy, err := NewServer(Config{Controller: &fakeController{}, Addr: addr})
	assert.NilError(t, err)
	assert.ErrorContains(t, busy.Listen(), "listen "+addr)

	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	cancel()
	assert.NilError(t, server.Run(ctx))
}
