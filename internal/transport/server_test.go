package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/tether/internal/core/bridge"
	"github.com/colonyops/tether/internal/core/command"
	"github.com/colonyops/tether/internal/core/discovery"
)

type serverOpts struct {
	submitTimeout time.Duration
	drain         bool
	rateRPS       float64
	rateBurst     int
}

func newTestServer(t *testing.T, opts serverOpts) *httptest.Server {
	t.Helper()

	reg := command.NewRegistry(zerolog.Nop(), nil)
	reg.Register(command.Descriptor{
		Name: "ping",
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			return map[string]any{"message": "pong"}, nil
		},
	})
	reg.Register(command.Descriptor{
		Name:   "echo",
		Params: []command.Param{{Name: "text", Kind: command.KindString, Required: true}},
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			return map[string]any{"text": args.String("text")}, nil
		},
	})
	reg.Register(command.Descriptor{
		Name: "explode",
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			return nil, errors.New("host rejected the operation")
		},
	})

	timeout := opts.submitTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	br := bridge.New(zerolog.Nop(), reg, nil, timeout)

	if opts.drain {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
					br.Drain(ctx, 64)
				}
			}
		}()
	}

	cfg := Config{
		MaxBodyBytes:  1024,
		SubmitTimeout: timeout,
	}
	if opts.rateRPS > 0 {
		cfg.RateLimitEnabled = true
		cfg.RateRPS = opts.rateRPS
		cfg.RateBurst = opts.rateBurst
	}

	s := NewServer(zerolog.Nop(), reg, br, nil, discovery.NewEntry("/tmp/project", 8090), cfg)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postCommand(t *testing.T, srv *httptest.Server, name, body string) (*http.Response, command.Result) {
	t.Helper()

	resp, err := http.Post(srv.URL+"/command/"+name, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var res command.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return resp, res
}

func TestCommand_Success(t *testing.T) {
	srv := newTestServer(t, serverOpts{drain: true})

	resp, res := postCommand(t, srv, "ping", `{}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", res.Status)
}

func TestCommand_HandlerErrorIsStill200(t *testing.T) {
	srv := newTestServer(t, serverOpts{drain: true})

	resp, res := postCommand(t, srv, "explode", `{}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "error", res.Status)
	assert.Contains(t, res.Error, "host rejected")
}

func TestCommand_Unknown404(t *testing.T) {
	srv := newTestServer(t, serverOpts{drain: true})

	resp, res := postCommand(t, srv, "no_such_command", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "error", res.Status)
}

func TestCommand_BadNameRejectedBeforeDispatch(t *testing.T) {
	srv := newTestServer(t, serverOpts{drain: false})

	// No drain loop running: if this reached the bridge it would hang.
	resp, _ := postCommand(t, srv, "bad~name", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCommand_MissingRequiredArg400(t *testing.T) {
	srv := newTestServer(t, serverOpts{drain: true})

	resp, res := postCommand(t, srv, "echo", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, res.Error, "text")
}

func TestCommand_EmptyBodyAllowed(t *testing.T) {
	srv := newTestServer(t, serverOpts{drain: true})

	resp, res := postCommand(t, srv, "ping", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", res.Status)
}

func TestCommand_BodyTooLarge413(t *testing.T) {
	srv := newTestServer(t, serverOpts{drain: true})

	big := `{"text":"` + strings.Repeat("x", 4096) + `"}`
	resp, _ := postCommand(t, srv, "echo", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestCommand_NoConsumer408(t *testing.T) {
	srv := newTestServer(t, serverOpts{drain: false, submitTimeout: 50 * time.Millisecond})

	resp, _ := postCommand(t, srv, "ping", `{}`)
	assert.Equal(t, http.StatusRequestTimeout, resp.StatusCode)
}

func TestRateLimit_429AfterBurst(t *testing.T) {
	srv := newTestServer(t, serverOpts{drain: true, rateRPS: 1, rateBurst: 2})

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		codes[resp.StatusCode]++
	}

	assert.Equal(t, 2, codes[http.StatusOK])
	assert.Equal(t, 3, codes[http.StatusTooManyRequests])
}

func TestManifest(t *testing.T) {
	srv := newTestServer(t, serverOpts{})

	resp, err := http.Get(srv.URL + "/manifest")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Status string `json:"status"`
		Result struct {
			InstanceID string `json:"instance_id"`
			Commands   []struct {
				Name string `json:"name"`
			} `json:"commands"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "success", out.Status)
	assert.NotEmpty(t, out.Result.InstanceID)

	names := make([]string, 0, len(out.Result.Commands))
	for _, c := range out.Result.Commands {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "ping")
	assert.Contains(t, names, "echo")
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, serverOpts{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "project", out["project"])
	assert.NotNil(t, out["limits"])
}

func TestCORS_Preflight(t *testing.T) {
	srv := newTestServer(t, serverOpts{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/command/ping", bytes.NewReader(nil))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}
