package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/codewandler/streamstore/core/es"
	"github.com/codewandler/streamstore/internal/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	defer a.close()

	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return stdout.String(), err
}

func sqliteArgs(t *testing.T) []string {
	t.Helper()
	t.Setenv("STREAMSTORE_SQL_SQLITE_PATH", filepath.Join(t.TempDir(), "events.db"))
	return []string{"--backend", "sqlite", "--no-color"}
}

func TestCLI_UserLifecycle(t *testing.T) {
	base := sqliteArgs(t)
	run := func(args ...string) string {
		t.Helper()
		out, err := execute(t, append(base, args...)...)
		require.NoError(t, err, out)
		return out
	}

	var created userView
	require.NoError(t, json.Unmarshal([]byte(run("user", "create", "ada@example.com", "--id", "ada", "--role", "admin", "--actor", "system", "-o", "json")), &created))
	require.Equal(t, "ada", created.ID)
	require.Equal(t, uint64(1), created.Version)
	require.Equal(t, "admin", created.Role)
	require.Equal(t, "system", created.CreatedBy)

	_, err := execute(t, append(base, "user", "create", "other@example.com", "--id", "ada")...)
	require.ErrorIs(t, err, es.ErrConcurrencyViolation)

	run("user", "sign-in", "ada")
	run("user", "change-locale", "ada", "de-CH")

	var shown userView
	require.NoError(t, yaml.Unmarshal([]byte(run("user", "show", "ada", "-o", "yaml")), &shown))
	require.Equal(t, uint64(3), shown.Version)
	require.Equal(t, 1, shown.SignIns)
	require.Equal(t, "de-CH", shown.Locale)

	require.NoError(t, json.Unmarshal([]byte(run("user", "show", "ada", "--at-version", "1", "-o", "json")), &shown))
	require.Equal(t, uint64(1), shown.Version)
	require.Equal(t, 0, shown.SignIns)

	run("user", "delete", "ada")
	_, err = execute(t, append(base, "user", "sign-in", "ada")...)
	require.ErrorIs(t, err, domain.ErrUserDeleted)

	var stream map[string]any
	require.NoError(t, json.Unmarshal([]byte(run("fetch", "ada", "-o", "json")), &stream))
	require.Equal(t, "user", stream["type"])
	require.Equal(t, float64(4), stream["version"])
	require.Equal(t, true, stream["deleted"])
	require.Len(t, stream["events"], 4)

	require.NoError(t, json.Unmarshal([]byte(run("fetch", "ada", "--from", "2", "--to", "3", "-o", "json")), &stream))
	require.Len(t, stream["events"], 2)
	require.Equal(t, float64(3), stream["version"])

	_, err = execute(t, append(base, "fetch", "ada", "--deleted=false")...)
	require.ErrorContains(t, err, "not found")

	text := run("fetch", "ada")
	require.Contains(t, text, "stream ada (user) v4 deleted")
	require.Contains(t, text, "user.signed_in")

	run("user", "restore", "ada")

	var ids []string
	require.NoError(t, json.Unmarshal([]byte(run("list", "-o", "json")), &ids))
	require.Equal(t, []string{"ada"}, ids)
}

func TestCLI_UserNotFound(t *testing.T) {
	_, err := execute(t, "user", "show", "nobody")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestCLI_Demo(t *testing.T) {
	out, err := execute(t, "demo", "-n", "20", "-u", "3", "-b", "10", "-o", "json")
	require.NoError(t, err)

	var res demoResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, 3, res.Users)
	require.Equal(t, int64(3*21), res.Events)
	require.Equal(t, uint64(21), res.MaxVersion)
}

func TestCLI_InvalidFlags(t *testing.T) {
	_, err := execute(t, "--backend", "cassandra", "list")
	require.ErrorContains(t, err, "cassandra")

	_, err = execute(t, "-o", "xml", "list")
	require.ErrorContains(t, err, "xml")
}

func TestCLI_Metrics(t *testing.T) {
	out, err := execute(t, "--metrics-addr", "127.0.0.1:0", "demo", "-n", "5", "--no-color")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "demo finished"), out)
}
