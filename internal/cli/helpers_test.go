package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stringpool/internal/httpapi"
	"github.com/roach88/stringpool/internal/ident"
	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/query"
	"github.com/roach88/stringpool/internal/store"
)

// writeConfig writes a node-a configuration with its database in a fresh
// directory, followed by extra YAML.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stringpool.yaml")
	body := "node: node-a\ndatabase: pool.db\nreplication:\n  slack: 1ms\n  throttle: 1ms\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

type cmdResult struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, args ...string) cmdResult {
	t.Helper()
	return executeWithInput(t, context.Background(), "", args...)
}

func executeWithInput(t *testing.T, ctx context.Context, input string, args ...string) cmdResult {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return cmdResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// decodeData unmarshals the data field of a JSON response into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func idOf(text string) string {
	return ident.Default().IdentifierOf(ident.Normalize(text))
}

// startPeer serves a fresh pool holding texts and returns its URL.
func startPeer(t *testing.T, name string, texts ...string) string {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := query.New(st, query.WithDomain(name))
	items := make([]query.UploadItem, len(texts))
	for i, text := range texts {
		items[i] = query.UploadItem{PlainText: text}
	}
	for _, res := range f.Upload(context.Background(), items, ir.Actor{User: "seed"}, "test") {
		require.NoError(t, res.Err)
	}

	srv := httptest.NewServer(httpapi.NewServer(f, httpapi.ServerConfig{}).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func peerConfig(name, url string) string {
	return "peers:\n  - name: " + name + "\n    url: " + url + "\n"
}
