// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wingedpig/servicedeck/internal/config"
	"github.com/wingedpig/servicedeck/internal/testutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "servicedeck.hjson")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestNew_LoadsConfigAndOverrides(t *testing.T) {
	path := writeConfig(t, `{
  server: { port: 4100 }
  catalog: { path: "data/services.json", watch: false }
  lifecycle: { max_attempts: 3 }
}`)

	a, err := New(Options{ConfigPath: path, Host: "0.0.0.0", Port: 4200})
	require.NoError(t, err)
	defer a.eventBus.Close()

	cfg := a.Config()
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 4200, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Lifecycle.MaxAttempts)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data", "services.json"), cfg.Catalog.Path)
}

func TestNew_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `{ viewers: { default_buffer: 7 } }`)

	_, err := New(Options{ConfigPath: path})
	require.Error(t, err)
	var verr *config.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestNew_MissingConfigFile(t *testing.T) {
	_, err := New(Options{ConfigPath: filepath.Join(t.TempDir(), "nope.hjson")})
	assert.Error(t, err)
}

func TestApp_InitializeServesAPI(t *testing.T) {
	path := writeConfig(t, `{
  catalog: { path: "services.json", watch: false }
}`)
	a, err := New(Options{ConfigPath: path, Version: "test"})
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))
	defer a.Shutdown(context.Background())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	svcDir := t.TempDir()
	body, _ := json.Marshal(map[string]interface{}{
		"name": "api",
		"port": testutil.FreePort(t),
		"path": svcDir,
	})
	resp, err := http.Post(srv.URL+"/api/v1/services", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/services")
	require.NoError(t, err)
	var list struct {
		Data []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Data, 1)
	assert.Equal(t, "api", list.Data[0].Name)
	assert.Equal(t, "stopped", list.Data[0].Status)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metricsBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(metricsBody), "servicedeck_")

	_, err = os.Stat(filepath.Join(filepath.Dir(path), "services.json"))
	assert.NoError(t, err)
}

func TestApp_RunUntilStop(t *testing.T) {
	port := testutil.FreePort(t)
	path := writeConfig(t, `{ catalog: { path: "services.json", watch: false } }`)
	a, err := New(Options{ConfigPath: path, Host: "127.0.0.1", Port: port})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background()) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	a.Stop()
	a.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestSetupLogging(t *testing.T) {
	assert.Nil(t, setupLogging(config.LoggingConfig{}))

	file := filepath.Join(t.TempDir(), "servicedeck.log")
	closer := setupLogging(config.LoggingConfig{File: file, MaxSizeMB: 1})
	require.NotNil(t, closer)
	log.Printf("rotating log check")
	log.SetOutput(os.Stderr)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "rotating log check"))
}
