package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"avatarcrop/internal/photo"
	"avatarcrop/internal/session"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(3 * x), G: uint8(5 * y), B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type testServer struct {
	t       *testing.T
	app     *fiber.App
	web     *WebApp
	profile *session.Profile
	commits []string
}

func newTestServer(t *testing.T) *testServer {
	profile := session.NewProfile("")
	ts := &testServer{t: t, profile: profile}
	ts.web = NewWebApp(Config{
		MaxUploadBytes: 8 << 20,
		Session:        session.New(session.Config{Store: profile}),
		Store:          profile,
		OnCommit:       func(avatar string) { ts.commits = append(ts.commits, avatar) },
	})
	ts.app = ts.web.newApp(t.Context())
	return ts
}

func (ts *testServer) do(method, target, contentType string, body []byte) (int, map[string]any) {
	ts.t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(ts.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (ts *testServer) doJSON(method, target string, v any) (int, map[string]any) {
	ts.t.Helper()
	body, err := json.Marshal(v)
	require.NoError(ts.t, err)
	return ts.do(method, target, fiber.MIMEApplicationJSON, body)
}

func TestWebEditAndCommit(t *testing.T) {
	ts := newTestServer(t)

	code, snap := ts.do(http.MethodGet, "/api/session", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "idle", snap["state"])

	code, snap = ts.do(http.MethodPost, "/api/upload", "image/png", pngBytes(t, 60, 40))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "adjusting", snap["state"])
	require.Equal(t, map[string]any{"width": 60.0, "height": 40.0, "format": "png"}, snap["image"])

	code, snap = ts.doJSON(http.MethodPut, "/api/crop", session.Adjustment{
		Region:   photo.Region{X: 5, Y: 5, Width: 20, Height: 16},
		Rotation: 90,
		Zoom:     1.5,
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 90.0, snap["adjustment"].(map[string]any)["rotation"])

	code, body := ts.do(http.MethodPost, "/api/commit", "", nil)
	require.Equal(t, http.StatusOK, code)
	avatar := body["avatar"].(string)
	require.True(t, strings.HasPrefix(avatar, "data:image/jpeg;base64,"))
	require.Equal(t, []string{avatar}, ts.commits)

	code, body = ts.do(http.MethodGet, "/api/avatar", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, avatar, body["avatar"])

	code, snap = ts.do(http.MethodGet, "/api/session", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "idle", snap["state"])
}

func TestWebCancelKeepsAvatar(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.profile.SetAvatar(t.Context(), "data:image/png;base64,AAAA"))

	code, _ := ts.do(http.MethodPost, "/api/upload", "image/png", pngBytes(t, 20, 20))
	require.Equal(t, http.StatusOK, code)
	code, snap := ts.do(http.MethodPost, "/api/cancel", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "idle", snap["state"])

	_, body := ts.do(http.MethodGet, "/api/avatar", "", nil)
	require.Equal(t, "data:image/png;base64,AAAA", body["avatar"])
	require.Empty(t, ts.commits)
}

func TestWebErrors(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(http.MethodPost, "/api/upload", "image/png", nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.NotEmpty(t, body["error"])

	code, _ = ts.do(http.MethodPost, "/api/commit", "", nil)
	require.Equal(t, http.StatusConflict, code)

	code, body = ts.do(http.MethodPost, "/api/upload", "image/png", []byte("not an image"))
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Contains(t, body["error"], "failed to decode")

	code, _ = ts.do(http.MethodPost, "/api/upload", "image/png", pngBytes(t, 10, 10))
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.doJSON(http.MethodPut, "/api/crop", session.Adjustment{
		Region: photo.Region{Width: 5, Height: 5},
		Zoom:   9,
	})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.doJSON(http.MethodPut, "/api/crop", session.Adjustment{Region: photo.Region{Width: 0, Height: 5}})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(http.MethodPut, "/api/crop", fiber.MIMEApplicationJSON, []byte("{"))
	require.Equal(t, http.StatusBadRequest, code)
}

func TestWebUploadWithoutWaiting(t *testing.T) {
	ts := newTestServer(t)
	code, snap := ts.do(http.MethodPost, "/api/upload?wait=false", "image/png", pngBytes(t, 12, 12))
	require.Equal(t, http.StatusAccepted, code)
	require.Contains(t, []any{"decoding", "adjusting"}, snap["state"])
	require.NoError(t, ts.web.config.Session.Wait(t.Context()))
}

func TestWebOperations(t *testing.T) {
	ts := newTestServer(t)
	data := base64.StdEncoding.EncodeToString(pngBytes(t, 32, 32))
	script := fmt.Sprintf(`{"operations": [
		{"type": "upload", "data": %q},
		{"type": "adjust", "region": {"x": 0, "y": 0, "width": 16, "height": 16}, "rotation": 45},
		{"type": "commit"}
	]}`, data)

	code, body := ts.do(http.MethodPost, "/api/operations", fiber.MIMEApplicationJSON, []byte(script))
	require.Equal(t, http.StatusOK, code)
	results := body["results"].([]any)
	require.Len(t, results, 3)
	last := results[2].(map[string]any)
	require.Equal(t, "commit", last["op"])
	require.Equal(t, "idle", last["state"])
	require.Len(t, ts.commits, 1)
	require.Equal(t, ts.commits[0], last["avatar"])

	code, body = ts.do(http.MethodPost, "/api/operations", fiber.MIMEApplicationJSON,
		[]byte(`{"operations": [{"type": "adjust", "region": {"width": 4, "height": 4}}]}`))
	require.Equal(t, http.StatusConflict, code)
	require.Len(t, body["results"], 1)
	require.NotEmpty(t, body["error"])

	code, _ = ts.do(http.MethodPost, "/api/operations", fiber.MIMEApplicationJSON,
		[]byte(`{"operations": [{"type": "rotate"}]}`))
	require.Equal(t, http.StatusBadRequest, code)
}

func TestWebOperationsRejectFilenameUploads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t, 8, 8), 0o644))

	ts := newTestServer(t)
	for _, name := range []string{path, "secret.png", "../secret.png"} {
		script := fmt.Sprintf(`{"operations": [{"type": "upload", "filename": %q}, {"type": "commit"}]}`, name)
		code, body := ts.do(http.MethodPost, "/api/operations", fiber.MIMEApplicationJSON, []byte(script))
		require.Equal(t, http.StatusBadRequest, code, name)
		require.Contains(t, body["error"], "not by filename")
	}

	require.Empty(t, ts.commits)
	avatar, err := ts.profile.Avatar(t.Context())
	require.NoError(t, err)
	require.Empty(t, avatar)
	_, snap := ts.do(http.MethodGet, "/api/session", "", nil)
	require.Equal(t, "idle", snap["state"])
}

func TestWebShutdown(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(http.MethodPost, "/api/shutdown", "", nil)
	require.Equal(t, http.StatusNoContent, code)
	select {
	case <-ts.web.shutdownCh:
	default:
		t.Fatal("shutdown channel still open")
	}
	ts.web.Shutdown()
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fiber.NewError(http.StatusTeapot, "teapot"), http.StatusTeapot},
		{&photo.DecodeError{Err: errors.New("bad")}, http.StatusUnprocessableEntity},
		{&photo.InvalidDimensionsError{What: "crop"}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", photo.ErrInvalidAngle), http.StatusBadRequest},
		{session.ErrZoomRange, http.StatusBadRequest},
		{&session.StateError{Op: "commit", State: session.StateIdle}, http.StatusConflict},
		{session.ErrSuperseded, http.StatusConflict},
		{fmt.Errorf("operation 0 (upload): %w", ErrFileUploadsDisabled), http.StatusBadRequest},
		{&photo.RenderContextError{Side: 1, Err: photo.ErrCanvasTooLarge}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, statusOf(tt.err), "%v", tt.err)
	}
}
