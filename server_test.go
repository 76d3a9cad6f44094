package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Mystic-Gaurab/text-detection-pt/acquire"
	"github.com/Mystic-Gaurab/text-detection-pt/detections"
	"github.com/Mystic-Gaurab/text-detection-pt/models"
)

type mockDetector struct {
	DetectFunc func(img image.Image) ([]models.Detection, error)
	calls      int
}

func (m *mockDetector) Detect(img image.Image) ([]models.Detection, error) {
	m.calls++
	return m.DetectFunc(img)
}

type mockStatus struct {
	st models.ModelStatus
}

func (m *mockStatus) Status() models.ModelStatus {
	return m.st
}

func newTestServer(det *mockDetector, st models.ModelStatus) *Server {
	return NewServer(det, &mockStatus{st: st}, acquire.New(time.Second, zap.NewNop()), zap.NewNop(), 10<<20)
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// detectRequest builds a multipart POST to /api/detect with an optional
// file part and url field.
func detectRequest(t *testing.T, upload []byte, url string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if upload != nil {
		part, err := writer.CreateFormFile("file", "test.png")
		require.NoError(t, err)
		_, err = io.Copy(part, bytes.NewReader(upload))
		require.NoError(t, err)
	}
	if url != "" {
		require.NoError(t, writer.WriteField("url", url))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/detect", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeDetectResponse(t *testing.T, rec *httptest.ResponseRecorder) DetectResponse {
	t.Helper()
	var resp DetectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleDetect_UploadSuccess(t *testing.T) {
	det := &mockDetector{
		DetectFunc: func(_ image.Image) ([]models.Detection, error) {
			return []models.Detection{
				{Box: [4]int32{2, 2, 20, 20}, Confidence: 0.987},
				{Box: [4]int32{30, 5, 50, 25}, Confidence: 0.512},
			}, nil
		},
	}
	s := newTestServer(det, models.ModelStatus{Loaded: true})

	rec := doRequest(s, detectRequest(t, testPNG(t, 64, 48), ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeDetectResponse(t, rec)
	assert.Equal(t, "Uploaded Image", resp.SourceType)
	assert.Empty(t, resp.URL)
	assert.Equal(t, 2, resp.Count)
	assert.Empty(t, resp.Message)
	assert.NotEmpty(t, resp.AnnotatedImage)

	// Confidence scores are rounded to exactly two decimals.
	assert.Contains(t, rec.Body.String(), `"confidences":[0.99,0.51]`)
	for _, c := range resp.Confidences {
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}

	// The original image round-trips with its dimensions intact.
	raw, err := base64.StdEncoding.DecodeString(resp.OriginalImage)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Bounds().Dx())
	assert.Equal(t, 48, decoded.Bounds().Dy())
}

func TestHandleDetect_ZeroDetectionsIsInformational(t *testing.T) {
	det := &mockDetector{
		DetectFunc: func(_ image.Image) ([]models.Detection, error) {
			return nil, nil
		},
	}
	s := newTestServer(det, models.ModelStatus{Loaded: true})

	rec := doRequest(s, detectRequest(t, testPNG(t, 32, 32), ""))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeDetectResponse(t, rec)
	assert.Equal(t, 0, resp.Count)
	assert.Equal(t, msgNoDetections, resp.Message)
	assert.Empty(t, resp.AnnotatedImage)
	assert.NotEmpty(t, resp.OriginalImage)
}

func TestHandleDetect_NoSource(t *testing.T) {
	det := &mockDetector{
		DetectFunc: func(_ image.Image) ([]models.Detection, error) {
			return nil, nil
		},
	}
	s := newTestServer(det, models.ModelStatus{Loaded: true})

	rec := doRequest(s, detectRequest(t, nil, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"no_source"`)
	assert.Equal(t, 0, det.calls)
}

func TestHandleDetect_InvalidUploadNeverReachesDetector(t *testing.T) {
	det := &mockDetector{
		DetectFunc: func(_ image.Image) ([]models.Detection, error) {
			return nil, nil
		},
	}
	s := newTestServer(det, models.ModelStatus{Loaded: true})

	rec := doRequest(s, detectRequest(t, []byte("not an image"), ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"decode_failure"`)
	assert.Equal(t, 0, det.calls)
}

func TestHandleDetect_UploadWinsOverUnreachableURL(t *testing.T) {
	det := &mockDetector{
		DetectFunc: func(_ image.Image) ([]models.Detection, error) {
			return []models.Detection{{Box: [4]int32{1, 1, 5, 5}, Confidence: 0.8}}, nil
		},
	}
	s := newTestServer(det, models.ModelStatus{Loaded: true})

	rec := doRequest(s, detectRequest(t, testPNG(t, 16, 16), "http://127.0.0.1:1/unreachable.png"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeDetectResponse(t, rec)
	assert.Equal(t, "Uploaded Image", resp.SourceType)
	assert.Empty(t, resp.URL)
	assert.Equal(t, 1, resp.Count)
}

func TestHandleDetect_URLSource(t *testing.T) {
	body := testPNG(t, 20, 20)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer ts.Close()

	det := &mockDetector{
		DetectFunc: func(_ image.Image) ([]models.Detection, error) {
			return []models.Detection{{Box: [4]int32{0, 0, 10, 10}, Confidence: 0.75}}, nil
		},
	}
	s := newTestServer(det, models.ModelStatus{Loaded: true})

	rec := doRequest(s, detectRequest(t, nil, ts.URL))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeDetectResponse(t, rec)
	assert.Equal(t, "URL Image", resp.SourceType)
	assert.Equal(t, ts.URL, resp.URL)
}

func TestHandleDetect_URLNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	det := &mockDetector{
		DetectFunc: func(_ image.Image) ([]models.Detection, error) {
			return nil, nil
		},
	}
	s := newTestServer(det, models.ModelStatus{Loaded: true})

	rec := doRequest(s, detectRequest(t, nil, ts.URL))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"network_failure"`)
	assert.Equal(t, 0, det.calls)
}

func TestHandleDetect_ModelUnavailable(t *testing.T) {
	det := &mockDetector{
		DetectFunc: func(_ image.Image) ([]models.Detection, error) {
			return nil, fmt.Errorf("%w: model file not found", detections.ErrUnavailable)
		},
	}
	s := newTestServer(det, models.ModelStatus{
		Loaded: false,
		Path:   "/srv/best_roboflow.onnx",
		Error:  "model file not found",
	})

	rec := doRequest(s, detectRequest(t, testPNG(t, 8, 8), ""))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"model_unavailable"`)
}

func TestHandleModelStatus(t *testing.T) {
	tests := []struct {
		name   string
		status models.ModelStatus
		want   []string
	}{
		{
			name:   "loaded",
			status: models.ModelStatus{Loaded: true, Path: "/srv/best_roboflow.onnx"},
			want:   []string{`"loaded":true`, `"path":"/srv/best_roboflow.onnx"`},
		},
		{
			name:   "weights missing",
			status: models.ModelStatus{Loaded: false, Path: "/srv/best_roboflow.onnx", Error: "model file not found at: /srv/best_roboflow.onnx"},
			want:   []string{`"loaded":false`, `"error":"model file not found at: /srv/best_roboflow.onnx"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockDetector{}, tt.status)

			req := httptest.NewRequest(http.MethodGet, "/api/model", nil)
			rec := doRequest(s, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			for _, fragment := range tt.want {
				assert.Contains(t, rec.Body.String(), fragment)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&mockDetector{}, models.ModelStatus{})

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleIndex_ServesEmbeddedPage(t *testing.T) {
	s := newTestServer(&mockDetector{}, models.ModelStatus{})

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "Detect Text")
}
