package main

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestConfirm(t *testing.T) {
	testCases := []struct {
		input    string
		expected bool
	}{
		{"y\n", true},
		{" YES \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
	}
	for _, testCase := range testCases {
		var out bytes.Buffer
		require.Equal(t, testCase.expected, confirm(strings.NewReader(testCase.input), &out, "Install?"), testCase.input)
		require.Equal(t, "Install? [y/N] ", out.String())
	}
}

func TestSelectUpdates(t *testing.T) {
	updates := []*addon.UpdateInfo{{AddonName: "Foo"}, {AddonName: "Bar"}}
	require.Equal(t, updates, selectUpdates(updates, nil))
	selected := selectUpdates(updates, []string{"bar", "baz"})
	require.Len(t, selected, 1)
	require.Equal(t, []string{"Bar"}, selectedNames(selected))
}

func zipArchive(t *testing.T, descriptor string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("fabric.mod.json")
	require.NoError(t, err)
	_, err = io.WriteString(w, descriptor)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func runCmd(t *testing.T, args ...string) (string, error) {
	log := logrus.New()
	log.Out = io.Discard
	cmd := newRootCmd(log)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckAndSearch(t *testing.T) {
	update := zipArchive(t, `{"id":"foo","version":"1.1.0","entrypoints":{"meteor":["foo.Addon"]}}`)
	sum := sha256.Sum256(update)

	mux := http.NewServeMux()
	var ts *httptest.Server
	mux.HandleFunc("/addons.json", func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode([]map[string]any{
			{"name": "Foo", "mc_version": "1.21.10", "verified": true, "links": map[string]any{"github": "https://github.com/owner/foo"}},
			{"name": "Bar", "mc_version": "1.21.10", "verified": true, "description": "bar things"},
		}))
	})
	mux.HandleFunc("/api/repos/owner/foo/releases/latest", func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"tag_name": "v1.1.0",
			"assets": []map[string]any{{
				"name":                 "foo-1.1.0.jar",
				"browser_download_url": ts.URL + "/foo-1.1.0.jar",
				"digest":               "sha256:" + hex.EncodeToString(sum[:]),
			}},
		}))
	})
	ts = httptest.NewServer(mux)
	defer ts.Close()

	gameDir := t.TempDir()
	modsDir := filepath.Join(gameDir, "mods")
	require.NoError(t, os.Mkdir(modsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modsDir, "foo-1.0.0.jar"),
		zipArchive(t, `{"id":"foo","name":"Foo","version":"1.0.0","entrypoints":{"meteor":["foo.Addon"]}}`), 0o644))

	t.Setenv("CATALOG_URL", ts.URL+"/addons.json")
	t.Setenv("GITHUB_API_URL", ts.URL+"/api")
	t.Setenv("DISABLE_METRICS", "true")

	out, err := runCmd(t, "check", "--game-dir", gameDir, "--game-version", "1.21.10")
	require.NoError(t, err)
	require.Contains(t, out, "Foo")
	require.Contains(t, out, "1.0.0 → 1.1.0")
	require.Contains(t, out, filepath.Join(modsDir, "foo-1.0.0.jar"))

	out, err = runCmd(t, "search", "bar", "-d", gameDir, "-g", "1.21.10")
	require.NoError(t, err)
	require.Contains(t, out, "bar things")
	require.NotContains(t, out, "Foo")

	// declining the prompt leaves the mods directory alone
	out, err = runCmd(t, "update", "-d", gameDir, "-g", "1.21.10")
	require.NoError(t, err)
	require.Contains(t, out, "Install 1 update(s)? [y/N]")
	entries, err := os.ReadDir(modsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMissingGameVersion(t *testing.T) {
	t.Setenv("GAME_VERSION", "")
	t.Setenv("DISABLE_METRICS", "true")
	_, err := runCmd(t, "check", "-d", t.TempDir())
	require.ErrorContains(t, err, "game version is not configured")
}
