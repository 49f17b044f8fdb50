package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"PPRealtime/global/config"
	"PPRealtime/service/natsx"
	"PPRealtime/service/stomp"
	"PPRealtime/tools/errs"
	"PPRealtime/tools/ids"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsOverrideConfig(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{"PPCHAT_BASE_URL": "http://env:1"})
	require.NoError(t, err)

	f := &flags{baseURL: "https://flag:2/", token: "tkn", transport: "NATS"}
	require.NoError(t, f.apply(&cfg))
	assert.Equal(t, "https://flag:2", cfg.BaseURL)
	assert.Equal(t, "tkn", cfg.Token)
	assert.Equal(t, config.TransportNats, cfg.Transport)

	// 空 flag 不覆盖
	f = &flags{}
	cfg.Username = "alice"
	require.NoError(t, f.apply(&cfg))
	assert.Equal(t, "alice", cfg.Username)

	assert.Error(t, (&flags{transport: "smoke"}).apply(&cfg))
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("PPCHAT_TOKEN", "")
	_, err := (&flags{}).load()
	assert.Equal(t, errs.NotAuthenticated, errs.Code(err))
}

func TestNewTransportByConfig(t *testing.T) {
	cfg := config.AppConfig{}
	require.NoError(t, cfg.Normalize())
	_, ok := newTransport(cfg, nil).(*stomp.Transport)
	assert.True(t, ok)

	cfg.Transport = config.TransportNats
	_, ok = newTransport(cfg, nil).(*natsx.Transport)
	assert.True(t, ok)
}

func TestHealthzAndMetrics(t *testing.T) {
	cfg := config.AppConfig{Username: "alice", Token: "tkn"}
	require.NoError(t, cfg.Normalize())
	a, err := newApp(cfg, nil)
	require.NoError(t, err)
	defer a.stop()
	r := a.router()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Disconnected", body["state"])
	assert.Equal(t, "alice", body["user"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ppchat_")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ppchat dev\n", out)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenThenWhoami(t *testing.T) {
	tok, err := run(t, "token", "--secret", "s3cret", "--for", "alice")
	require.NoError(t, err)
	tok = strings.TrimSpace(tok)
	require.NotEmpty(t, tok)
	t.Setenv("PPCHAT_TOKEN", tok)

	out, err := run(t, "whoami", "--secret", "s3cret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "alice (verified)"), out)

	out, err = run(t, "whoami")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "alice (unverified)"), out)

	_, err = run(t, "whoami", "--secret", "other")
	assert.Equal(t, errs.NotAuthenticated, errs.Code(err))
}

func TestNodeIDFromConfig(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{"PPCHAT_NODE_ID": "42"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.NodeID)
	t.Cleanup(func() { ids.SetNodeID(1) })

	a, err := newApp(cfg, nil)
	require.NoError(t, err)
	defer a.stop()
	assert.Equal(t, int64(42), (ids.Generate()>>12)&1023)
}
