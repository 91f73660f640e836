package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// executeCommand runs the root command and captures its output.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Subcommands keep the context of the previous execution; cobra only
	// replaces it when it is nil.
	resetContext(rootCmd, ctx)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func resetContext(c *cobra.Command, ctx context.Context) {
	c.SetContext(ctx)
	for _, sub := range c.Commands() {
		resetContext(sub, ctx)
	}
}

func writePNG(t *testing.T, path string, reversed bool) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := range 64 {
		for x := range 64 {
			v := uint8(x * 4)
			if reversed {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// imageDir creates a.png and c.png (identical), b.png (reversed) and broken.jpg.
func imageDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), false)
	writePNG(t, filepath.Join(dir, "b.png"), true)
	writePNG(t, filepath.Join(dir, "c.png"), false)
	if err := os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not an image"), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PHASH_STORE", "file")
	t.Setenv("PHASH_STORE_DIR", t.TempDir())
	t.Setenv("PHASH_IMAGE_QUALITY", "highQualityFormat")
	t.Setenv("LOG_LEVEL", "error")
}

func TestVersionCmd(t *testing.T) {
	out, _, err := executeCommand(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "photo-dedup ") {
		t.Errorf("version output = %q; want photo-dedup prefix", out)
	}
}

func TestHashCmd_JSON(t *testing.T) {
	isolateEnv(t)
	dir := imageDir(t)

	out, errOut, err := executeCommand(t, "hash", "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("hash failed: %v, stderr: %s", err, errOut)
	}

	var got HashOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if got.Count != 4 || got.Absent != 1 {
		t.Fatalf("Count = %d, Absent = %d; want 4 and 1", got.Count, got.Absent)
	}
	wantIDs := []string{"a.png", "b.png", "broken.jpg", "c.png"}
	for i, e := range got.Results {
		if e.ID != wantIDs[i] {
			t.Errorf("Results[%d].ID = %q; want %q", i, e.ID, wantIDs[i])
		}
	}
	if got.Results[2].Fingerprint != nil {
		t.Errorf("broken.jpg fingerprint = %q; want null", *got.Results[2].Fingerprint)
	}
	if fp := got.Results[0].Fingerprint; fp == nil || len(*fp) != 64 {
		t.Errorf("a.png fingerprint = %v; want 64 characters", fp)
	}
	if *got.Results[0].Fingerprint != *got.Results[3].Fingerprint {
		t.Error("identical images have different fingerprints")
	}
}

func TestSimilarCmd_JSON(t *testing.T) {
	isolateEnv(t)
	dir := imageDir(t)

	out, errOut, err := executeCommand(t, "similar", "--dir", dir, "--json", "--threshold", "4", "--algorithm", "dHash")
	if err != nil {
		t.Fatalf("similar failed: %v, stderr: %s", err, errOut)
	}

	var got GroupsOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if got.Count != 1 {
		t.Fatalf("Count = %d; want 1 (%+v)", got.Count, got.Groups)
	}
	if ids := strings.Join(got.Groups[0].IDs, ","); ids != "a.png,c.png" {
		t.Errorf("group = %s; want a.png,c.png", ids)
	}
}

func TestDuplicatesCmd_Text(t *testing.T) {
	isolateEnv(t)
	dir := imageDir(t)

	out, errOut, err := executeCommand(t, "duplicates", "--dir", dir, "--json=false")
	if err != nil {
		t.Fatalf("duplicates failed: %v, stderr: %s", err, errOut)
	}
	if !strings.Contains(out, "Group 1 (2 images):") {
		t.Errorf("output %q does not list the duplicate group", out)
	}
	if !strings.Contains(out, "  a.png\n  c.png\n") {
		t.Errorf("output %q does not list a.png and c.png", out)
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	isolateEnv(t)
	dir := imageDir(t)

	if _, errOut, err := executeCommand(t, "hash", "--dir", dir, "--json"); err != nil {
		t.Fatalf("hash failed: %v, stderr: %s", err, errOut)
	}

	out, _, err := executeCommand(t, "cache", "stats", "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("cache stats failed: %v", err)
	}
	var stats struct{ Entries int }
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if stats.Entries != 3 {
		t.Errorf("Entries = %d; want 3", stats.Entries)
	}

	if _, _, err := executeCommand(t, "cache", "clear", "--dir", dir, "--json"); err != nil {
		t.Fatalf("cache clear failed: %v", err)
	}
	out, _, err = executeCommand(t, "cache", "stats", "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("cache stats failed: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if stats.Entries != 0 {
		t.Errorf("Entries after clear = %d; want 0", stats.Entries)
	}
}

func TestCommandsRunWithAFreshContext(t *testing.T) {
	isolateEnv(t)
	dir := imageDir(t)

	// Each execution cancels its context on return; later runs must not see it.
	for i := range 3 {
		if _, errOut, err := executeCommand(t, "hash", "--dir", dir, "--json"); err != nil {
			t.Fatalf("run %d: hash failed: %v, stderr: %s", i, err, errOut)
		}
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	isolateEnv(t)
	t.Setenv("PHASH_MAX_CONCURRENT", "zero")

	_, _, err := executeCommand(t, "hash", "--dir", t.TempDir())
	if err == nil {
		t.Fatal("hash with malformed PHASH_MAX_CONCURRENT succeeded; want error")
	}
}
