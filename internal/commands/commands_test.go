package commands

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 60, B: 30, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func potServer(t *testing.T, frame []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=pot")
		w.WriteHeader(http.StatusOK)

		fmt.Fprintf(w, "--pot\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
		w.Write(frame)
		w.Write([]byte("\r\n"))
		w.(http.Flusher).Flush()

		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

func TestSnapshotWritesFrame(t *testing.T) {
	frame := testJPEG(t, 320, 240)
	srv := potServer(t, frame)

	dir := t.TempDir()
	out := filepath.Join(dir, "pot.jpg")

	stdout, err := execute(t, "snapshot",
		"--config", filepath.Join(dir, "config.yaml"),
		"--url", srv.URL,
		"--trojan=false",
		"-o", out,
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote "+out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, frame, data)
}

func TestSnapshotTrojan(t *testing.T) {
	srv := potServer(t, testJPEG(t, 320, 240))

	dir := t.TempDir()
	out := filepath.Join(dir, "trojan.jpg")

	_, err := execute(t, "snapshot",
		"--config", filepath.Join(dir, "config.yaml"),
		"--url", srv.URL,
		"--trojan",
		"-o", out,
	)
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 128, 96), img.Bounds())
	assert.IsType(t, &image.Gray{}, img)
}

func TestSnapshotRejectsBadURL(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "snapshot",
		"--config", filepath.Join(dir, "config.yaml"),
		"--url", "ftp://kaffee.hnf.de",
		"-o", filepath.Join(dir, "never.jpg"),
	)
	assert.ErrorContains(t, err, "must use http or https")
	// Execute prints the error once; cobra must not print it too.
	assert.NotContains(t, out, "Error:")
}

func TestConfigShowMergesFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trojan_size: 64\ndisplay_fps: 10\n"), 0o644))

	stdout, err := execute(t, "config", "show",
		"--config", path,
		"--url", "http://127.0.0.1:9000/stream",
		"--trojan=false",
	)
	require.NoError(t, err)

	var shown map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &shown))
	assert.Equal(t, 64, shown["trojan_size"])
	assert.Equal(t, 10, shown["display_fps"])
	assert.Equal(t, "http://127.0.0.1:9000/stream", shown["stream_url"])
}

func TestConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")

	stdout, err := execute(t, "config", "path", "--config", path, "--url", "https://kaffee.hnf.de")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", stdout)
}
