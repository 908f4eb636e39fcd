// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SkipIfNoNetwork skips tests that listen on loopback TCP, such as the
// in-process SSH server, when FEDEPLOY_TEST_SKIP_NETWORK is set.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("FEDEPLOY_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: FEDEPLOY_TEST_SKIP_NETWORK is set")
	}
}

// WriteFile writes content to dir/name, creating parent directories, and
// returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
