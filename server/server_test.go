package server_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	imagecompositor "github.com/Skryldev/image-compositor"
	"github.com/Skryldev/image-compositor/adapters/storage"
	"github.com/Skryldev/image-compositor/config"
	"github.com/Skryldev/image-compositor/server"
)

func newPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts, _ := setupServerWithCompositor(t)
	return ts
}

func setupServerWithCompositor(t *testing.T) (*httptest.Server, *imagecompositor.Compositor) {
	t.Helper()
	cfg := imagecompositor.DefaultConfig()
	cfg.Cache = config.CacheNone
	cfg.ForegroundTimeout = 200 * time.Millisecond
	cfg.Server.AllowedOrigins = []string{"*"}

	local, err := storage.NewLocal(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	assets := fstest.MapFS{
		"wolverine.png": &fstest.MapFile{Data: newPNG(t, 40, 60, color.Transparent)},
		"index.html":    &fstest.MapFile{Data: []byte("<html></html>")},
	}
	comp, err := imagecompositor.New(cfg,
		imagecompositor.WithAssets(assets),
		imagecompositor.WithStorage(local),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = comp.Close() })

	ts := httptest.NewServer(server.New(comp, assets, nil).Router())
	t.Cleanup(ts.Close)
	return ts, comp
}

type statusBody struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	ImagesLoaded bool   `json:"images_loaded"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Tainted      bool   `json:"tainted"`
	Error        string `json:"error"`
	Kind         string `json:"kind"`
	Hint         string `json:"hint"`
	Controls     struct {
		RotationDegrees float64 `json:"rotation_degrees"`
		ScalePercent    int     `json:"scale_percent"`
	} `json:"controls"`
}

func decode(t *testing.T, res *http.Response, v any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	res, err := http.Post(ts.URL+"/api/v1/sessions/", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", res.StatusCode)
	}
	var st statusBody
	decode(t, res, &st)
	if st.ID == "" || st.State != "empty" {
		t.Fatalf("new session %+v", st)
	}
	return st.ID
}

func do(t *testing.T, method, url, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestHealthAndStatic(t *testing.T) {
	ts := setupServer(t)

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]any
	decode(t, res, &health)
	if health["status"] != "ok" {
		t.Errorf("health %v", health)
	}

	res, err = http.Get(ts.URL + "/wolverine.png")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK || res.Header.Get("Content-Type") != "image/png" {
		t.Errorf("static: %d %q", res.StatusCode, res.Header.Get("Content-Type"))
	}
}

func TestUnknownSession(t *testing.T) {
	ts := setupServer(t)
	res, err := http.Get(ts.URL + "/api/v1/sessions/nope")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", res.StatusCode)
	}
}

func TestPasteTransformExport(t *testing.T) {
	ts := setupServer(t)
	id := createSession(t, ts)
	base := ts.URL + "/api/v1/sessions/" + id

	res := do(t, http.MethodGet, base+"/export", "", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("export before load: %d", res.StatusCode)
	}

	res = do(t, http.MethodPost, base+"/paste", "image/png", newPNG(t, 80, 80, color.RGBA{B: 255, A: 255}))
	var st statusBody
	decode(t, res, &st)
	if res.StatusCode != http.StatusOK || st.State != "ready" || !st.ImagesLoaded {
		t.Fatalf("paste: %d %+v", res.StatusCode, st)
	}
	if st.Width != 40 || st.Height != 60 {
		t.Errorf("surface %dx%d", st.Width, st.Height)
	}

	res = do(t, http.MethodPut, base+"/transform", "application/json", []byte(`{"scale":9,"rotation":45}`))
	decode(t, res, &st)
	if st.Controls.ScalePercent != 250 || st.Controls.RotationDegrees != 45 {
		t.Errorf("controls %+v", st.Controls)
	}

	res = do(t, http.MethodPost, base+"/reset", "", nil)
	decode(t, res, &st)
	if st.Controls.ScalePercent != 100 || st.Controls.RotationDegrees != 0 {
		t.Errorf("after reset %+v", st.Controls)
	}

	res = do(t, http.MethodGet, base+"/export", "", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d", res.StatusCode)
	}
	if cd := res.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="wolverine-mlb-meme.png"`) {
		t.Errorf("content-disposition %q", cd)
	}
	img, err := png.Decode(res.Body)
	if err != nil {
		t.Fatalf("exported png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 60 {
		t.Errorf("export bounds %v", b)
	}
}

func TestUploadAndSave(t *testing.T) {
	ts := setupServer(t)
	id := createSession(t, ts)
	base := ts.URL + "/api/v1/sessions/" + id

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="logan.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(newPNG(t, 30, 30, color.White))
	mw.Close()

	res := do(t, http.MethodPost, base+"/upload", mw.FormDataContentType(), body.Bytes())
	var st statusBody
	decode(t, res, &st)
	if res.StatusCode != http.StatusOK || st.State != "ready" {
		t.Fatalf("upload: %d %+v", res.StatusCode, st)
	}

	res = do(t, http.MethodPost, base+"/export", "", nil)
	var saved struct {
		Path  string `json:"path"`
		Bytes int    `json:"bytes"`
	}
	decode(t, res, &saved)
	if res.StatusCode != http.StatusCreated || !strings.HasSuffix(saved.Path, "-wolverine-mlb-meme.png") || saved.Bytes == 0 {
		t.Fatalf("save: %d %+v", res.StatusCode, saved)
	}

	res = do(t, http.MethodGet, base+"/preview?quality=50", "", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || res.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("preview: %d %q", res.StatusCode, res.Header.Get("Content-Type"))
	}
}

func TestPasteRejectsNonImage(t *testing.T) {
	ts := setupServer(t)
	base := ts.URL + "/api/v1/sessions/" + createSession(t, ts)

	res := do(t, http.MethodPost, base+"/paste", "text/plain", []byte("hello"))
	res.Body.Close()
	if res.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status %d", res.StatusCode)
	}
}

func TestForegroundErrors(t *testing.T) {
	ts := setupServer(t)
	base := ts.URL + "/api/v1/sessions/" + createSession(t, ts)

	res := do(t, http.MethodPut, base+"/foreground", "application/json", []byte(`{"url":"ftp://example.com/x.png"}`))
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid url status %d", res.StatusCode)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Write([]byte("not an image"))
	}))
	defer broken.Close()

	body, _ := json.Marshal(map[string]string{"url": broken.URL + "/x.png", "title": "Broken"})
	res = do(t, http.MethodPut, base+"/foreground", "application/json", body)
	var eb statusBody
	decode(t, res, &eb)
	if res.StatusCode != http.StatusUnprocessableEntity || eb.Kind != "foreground_network_or_decode" || eb.Hint == "" {
		t.Fatalf("load failure: %d %+v", res.StatusCode, eb)
	}

	res = do(t, http.MethodGet, base, "", nil)
	decode(t, res, &eb)
	if eb.State != "failed" || eb.Error == "" {
		t.Errorf("status after failure %+v", eb)
	}
}

func TestPointerDrag(t *testing.T) {
	ts := setupServer(t)
	base := ts.URL + "/api/v1/sessions/" + createSession(t, ts)

	res := do(t, http.MethodPost, base+"/paste", "image/png", newPNG(t, 10, 10, color.White))
	res.Body.Close()

	events := []string{
		`{"type":"down","clientX":10,"clientY":10,"rect":{"left":0,"top":0,"width":40,"height":60}}`,
		`{"type":"move","clientX":15,"clientY":10,"rect":{"left":0,"top":0,"width":40,"height":60}}`,
		`{"type":"up"}`,
	}
	for _, ev := range events {
		res = do(t, http.MethodPost, base+"/pointer", "application/json", []byte(ev))
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("pointer %s: %d", ev, res.StatusCode)
		}
	}

	res = do(t, http.MethodGet, base, "", nil)
	var st struct {
		Dragging  bool `json:"dragging"`
		Transform struct {
			Position struct{ X, Y float64 } `json:"position"`
		} `json:"transform"`
	}
	decode(t, res, &st)
	if st.Dragging || st.Transform.Position.X != 25 || st.Transform.Position.Y != 39 {
		t.Errorf("after drag %+v", st)
	}
}

func TestDeleteSession(t *testing.T) {
	ts := setupServer(t)
	base := ts.URL + "/api/v1/sessions/" + createSession(t, ts)

	res := do(t, http.MethodDelete, base, "", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete %d", res.StatusCode)
	}
	res = do(t, http.MethodGet, base, "", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("after delete %d", res.StatusCode)
	}
}

func TestForegroundURLReleasesUploadedBlob(t *testing.T) {
	ts, comp := setupServerWithCompositor(t)
	base := ts.URL + "/api/v1/sessions/" + createSession(t, ts)

	res := do(t, http.MethodPost, base+"/paste", "image/png", newPNG(t, 10, 10, color.White))
	res.Body.Close()
	if comp.Blobs().Len() != 1 {
		t.Fatalf("blobs after paste = %d", comp.Blobs().Len())
	}

	img := newPNG(t, 20, 20, color.Black)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	}))
	defer remote.Close()

	body, _ := json.Marshal(map[string]string{"url": remote.URL + "/logan.png"})
	res = do(t, http.MethodPut, base+"/foreground", "application/json", body)
	var st statusBody
	decode(t, res, &st)
	if res.StatusCode != http.StatusOK || st.State != "ready" || st.Tainted {
		t.Fatalf("foreground: %d %+v", res.StatusCode, st)
	}
	if n := comp.Blobs().Len(); n != 0 {
		t.Errorf("blobs after switching to a URL = %d, want 0", n)
	}
}
