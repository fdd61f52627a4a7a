package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazz-dev/reachprobe/internal/config"
	"github.com/hazz-dev/reachprobe/internal/prober"
)

func TestURLs_AddRemovePersist(t *testing.T) {
	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "settings.yml")
	cfgPath := filepath.Join(dir, "config.yml")
	content := "probe:\n  urls: [\"https://a.example\"]\nsettings:\n  path: \"" + filepath.ToSlash(settingsPath) + "\"\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	old := cfgFile
	cfgFile = cfgPath
	t.Cleanup(func() { cfgFile = old })

	var buf bytes.Buffer
	root := rootCmd()
	root.SetOut(&buf)
	root.SetArgs([]string{"urls", "add", "tcp://1.1.1.1:53", "--config", cfgPath})
	if err := root.Execute(); err != nil {
		t.Fatalf("urls add: %v", err)
	}
	if !strings.Contains(buf.String(), "2\ttcp://1.1.1.1:53") {
		t.Errorf("expected new url listed second, got:\n%s", buf.String())
	}

	persisted, ok, err := config.NewSettingsFile(settingsPath).Load()
	if err != nil || !ok {
		t.Fatalf("expected settings file after add, ok=%v err=%v", ok, err)
	}
	if len(persisted.URLs) != 2 {
		t.Fatalf("expected 2 persisted urls, got %v", persisted.URLs)
	}

	// A fresh invocation sees the persisted list.
	buf.Reset()
	root = rootCmd()
	root.SetOut(&buf)
	root.SetArgs([]string{"urls", "remove", "https://a.example", "--config", cfgPath})
	if err := root.Execute(); err != nil {
		t.Fatalf("urls remove: %v", err)
	}
	if strings.Contains(buf.String(), "https://a.example") {
		t.Errorf("expected url removed, got:\n%s", buf.String())
	}

	persisted, _, err = config.NewSettingsFile(settingsPath).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted.URLs) != 1 || persisted.URLs[0] != "tcp://1.1.1.1:53" {
		t.Errorf("unexpected persisted urls: %v", persisted.URLs)
	}
}

func TestAddURL_Invalid(t *testing.T) {
	p := prober.New(config.DefaultProbe(), prober.Options{Logger: quietLogger()})
	var buf bytes.Buffer
	if err := addURL(&buf, p, "ftp://x.example"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestRemoveURL_Absent(t *testing.T) {
	p := prober.New(config.DefaultProbe(), prober.Options{Logger: quietLogger()})
	var buf bytes.Buffer
	if err := removeURL(&buf, p, "https://nope.example"); err == nil {
		t.Error("expected error removing absent url")
	}
}

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	root := rootCmd()
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "reachprobe ") {
		t.Errorf("unexpected version output: %q", buf.String())
	}
}
