package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.PostForm.Get("password") != "password123" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Incorrect email or password"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "token_type": "bearer"})
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "username": "ada", "first_name": "Ada", "email": "ada@example.com"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := strings.Join([]string{
		"api:",
		"  base_url: " + baseURL,
		"log:",
		"  file: " + filepath.Join(dir, "heritage.log"),
		"cache:",
		`  path: ":memory:"`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	stdin = bufio.NewReader(strings.NewReader(input))
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoginCommand(t *testing.T) {
	srv := backend(t)
	cfgFile := writeConfig(t, srv.URL)

	out, err := execute(t, "password123\n", "--config", cfgFile, "--no-keyring", "login", "--user", "ada@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as Ada")

	_, err = execute(t, "wrong-password\n", "--config", cfgFile, "--no-keyring", "login", "--user", "ada@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect email or password")
}

func TestProtectedCommandWithoutSession(t *testing.T) {
	srv := backend(t)
	cfgFile := writeConfig(t, srv.URL)

	_, err := execute(t, "", "--config", cfgFile, "--no-keyring", "notifications", "count")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HERITAGE_LOG_LEVEL", "warn")

	out, err := execute(t, "", "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "poll_interval_sec: 30")
	assert.Contains(t, string(data), "level: warn")

	_, err = execute(t, "", "--config", path, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestReadLine(t *testing.T) {
	stdin = bufio.NewReader(strings.NewReader("first\r\nsecond"))
	a, err := readLine()
	require.NoError(t, err)
	b, err := readLine()
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, []string{a, b})

	_, err = readLine()
	assert.Error(t, err)
}

func TestEnsureDir(t *testing.T) {
	assert.NoError(t, ensureDir(":memory:"))
	path := filepath.Join(t.TempDir(), "a", "b", "cache.db")
	require.NoError(t, ensureDir(path))
	assert.DirExists(t, filepath.Dir(path))
}
