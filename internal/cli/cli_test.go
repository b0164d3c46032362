package cli

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

	"github.com/charmbracelet/log"

	"github.com/ironsheep/image-loader-mcp/internal/inspect"
)

func createTestImageFile(t *testing.T, dir string, width, height int, c color.Color) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(dir, "input.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return path
}

// run executes the CLI with an isolated cache directory.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("IMAGE_LOADER_CACHE_DIR", t.TempDir())
	t.Setenv("IMAGE_LOADER_DISK_BACKEND", "file")
	var stdout, stderr bytes.Buffer
	c := New(&stdout, &stderr, BuildInfo{Version: "v1.2.3", Commit: "abc123", BuildTime: "today"})
	root := c.RootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestLoadCommand(t *testing.T) {
	dir := t.TempDir()
	input := createTestImageFile(t, dir, 40, 20, color.NRGBA{R: 255, A: 255})
	output := filepath.Join(dir, "out.png")

	stdout, _, err := run(t, "load", input, "-W", "10", "-H", "10", "--mode", "center_crop", "-t", "grayscale", "-o", output)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	var summary inspect.Summary
	if err := json.Unmarshal([]byte(stdout), &summary); err != nil {
		t.Fatalf("stdout is not a summary: %v\n%s", err, stdout)
	}
	if summary.Width != 10 || summary.Height != 10 || summary.LoadedFrom != "DISK" {
		t.Errorf("summary = %+v", summary)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("output is not PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 10 {
		t.Errorf("output size = %dx%d, want 10x10", b.Dx(), b.Dy())
	}
	r, g, b, _ := img.At(5, 5).RGBA()
	if r != g || g != b {
		t.Errorf("output pixel (%d,%d,%d) is not gray", r>>8, g>>8, b>>8)
	}
}

func TestLoadCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	input := createTestImageFile(t, dir, 4, 4, color.White)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no uri", []string{"load"}, "accepts 1 arg"},
		{"half pivot", []string{"load", input, "--rotate", "90", "--pivot-x", "1"}, "--pivot-x and --pivot-y"},
		{"bad mode", []string{"load", input, "--mode", "stretch"}, "unknown mode"},
		{"missing file", []string{"load", filepath.Join(dir, "missing.png")}, "failed to open image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestTransformationsCommand(t *testing.T) {
	stdout, _, err := run(t, "transformations")
	if err != nil {
		t.Fatalf("transformations failed: %v", err)
	}
	for _, name := range []string{"grayscale", "blur", "tint"} {
		if !strings.Contains(stdout, name+"\n") {
			t.Errorf("output does not list %s:\n%s", name, stdout)
		}
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := run(t, "--version")
	if err != nil {
		t.Fatalf("--version failed: %v", err)
	}
	if !strings.Contains(stdout, "image-loader v1.2.3") || !strings.Contains(stdout, "commit: abc123") {
		t.Errorf("version output = %q", stdout)
	}
}

func TestSetup_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loader.toml")
	if err := os.WriteFile(path, []byte("workers = 7\nlog_level = \"warn\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	var stdout, stderr bytes.Buffer
	c := New(&stdout, &stderr, BuildInfo{})
	root := c.RootCommand()
	root.SetArgs([]string{"--config", path, "transformations"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if c.Config.Workers != 7 {
		t.Errorf("workers = %d, want 7", c.Config.Workers)
	}
	if c.Logger.GetLevel() != log.WarnLevel {
		t.Errorf("level = %v, want warn", c.Logger.GetLevel())
	}
}

func TestSetup_VerboseWins(t *testing.T) {
	var stdout, stderr bytes.Buffer
	c := New(&stdout, &stderr, BuildInfo{})
	root := c.RootCommand()
	root.SetArgs([]string{"-v", "transformations"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if c.Logger.GetLevel() != log.DebugLevel {
		t.Errorf("level = %v, want debug", c.Logger.GetLevel())
	}
}

func TestSetup_BadConfig(t *testing.T) {
	_, _, err := run(t, "--config", filepath.Join(t.TempDir(), "absent.toml"), "transformations")
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Errorf("error = %v, want a config read failure", err)
	}
}

func TestIsRelativePath(t *testing.T) {
	tests := []struct {
		uri  string
		want bool
	}{
		{"photo.jpg", true},
		{"./img/a.png", true},
		{"/abs/a.png", false},
		{"file:///a.png", false},
		{"https://example.com/a.png", false},
		{"data:image/png;base64,AAAA", false},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			if got := isRelativePath(tt.uri); got != tt.want {
				t.Errorf("isRelativePath(%q) = %v, want %v", tt.uri, got, tt.want)
			}
		})
	}
}
