package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bryan-buckman/zenith/internal/config"
)

const testRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Upstream News</title>
  <item><title>First</title><link>https://upstream.example/1</link><guid>u1</guid></item>
  <item><title>Second</title><link>https://upstream.example/2</link><guid>u2</guid></item>
</channel></rss>`

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rss", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testRSS)
	})
	var srv *httptest.Server
	mux.HandleFunc("/list.opml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<opml version="2.0"><body><outline text="Upstream" xmlUrl="%s/rss"/></body></opml>`, srv.URL)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("database:\n  driver: sqlite\n  path: %s\nlogging:\n  level: error\n", filepath.Join(dir, "zenith.db"))
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionFlag(t *testing.T) {
	out, err := runCLI(t, writeTestConfig(t), "--version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "zenith version "+version) {
		t.Errorf("got %q", out)
	}
}

func TestAddListExportRemove(t *testing.T) {
	upstream := newUpstream(t)
	cfg := writeTestConfig(t)
	feedURL := upstream.URL + "/rss"

	out, err := runCLI(t, cfg, "add", feedURL)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "Added Upstream News") {
		t.Errorf("add output %q", out)
	}

	if _, err := runCLI(t, cfg, "add", feedURL); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("duplicate add should fail, got %v", err)
	}

	out, err = runCLI(t, cfg, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Upstream News") || !strings.Contains(out, feedURL) {
		t.Errorf("list output %q", out)
	}

	out, err = runCLI(t, cfg, "export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, `xmlUrl="`+feedURL+`"`) {
		t.Errorf("export output %q", out)
	}

	if _, err := runCLI(t, cfg, "remove", feedURL); err != nil {
		t.Fatalf("remove: %v", err)
	}
	out, _ = runCLI(t, cfg, "list")
	if !strings.Contains(out, "No feeds.") {
		t.Errorf("list after remove %q", out)
	}
}

func TestImportThenRefresh(t *testing.T) {
	upstream := newUpstream(t)
	cfg := writeTestConfig(t)

	out, err := runCLI(t, cfg, "import", upstream.URL+"/list.opml")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Imported 1 new feeds") {
		t.Errorf("import output %q", out)
	}

	out, err = runCLI(t, cfg, "refresh")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !strings.Contains(out, "2 posts") {
		t.Errorf("refresh output %q", out)
	}
}

func TestRefreshWithoutFeeds(t *testing.T) {
	if _, err := runCLI(t, writeTestConfig(t), "refresh"); err == nil {
		t.Fatal("expected error with no feeds")
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zenith", "config.yaml")

	out, err := runCLI(t, path, "config", "init")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote "+path) {
		t.Errorf("output %q", out)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("written config should load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Feeds.DefaultOPMLURL != config.DefaultOPMLURL {
		t.Errorf("unexpected config %+v", cfg)
	}

	if _, err := runCLI(t, path, "config", "init"); err == nil {
		t.Error("existing file should not be overwritten without --force")
	}
	if _, err := runCLI(t, path, "config", "init", "--force"); err != nil {
		t.Errorf("--force should overwrite: %v", err)
	}
}
