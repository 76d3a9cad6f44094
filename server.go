package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Mystic-Gaurab/text-detection-pt/acquire"
	"github.com/Mystic-Gaurab/text-detection-pt/annotate"
	"github.com/Mystic-Gaurab/text-detection-pt/detections"
	"github.com/Mystic-Gaurab/text-detection-pt/models"
)

const msgNoDetections = "No text detected in the image"

// Detector runs the model over a decoded image.
type Detector interface {
	Detect(img image.Image) ([]models.Detection, error)
}

// StatusReporter exposes the current model state.
type StatusReporter interface {
	Status() models.ModelStatus
}

type Server struct {
	detector       Detector
	status         StatusReporter
	acquirer       *acquire.Acquirer
	log            *zap.Logger
	maxUploadBytes int64
}

func NewServer(detector Detector, status StatusReporter, acquirer *acquire.Acquirer, log *zap.Logger, maxUploadBytes int64) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Server{
		detector:       detector,
		status:         status,
		acquirer:       acquirer,
		log:            log,
		maxUploadBytes: maxUploadBytes,
	}
}

func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/api/detect", s.handleDetect).Methods("POST")
	r.HandleFunc("/api/model", s.handleModelStatus).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	return r
}

type DetectResponse struct {
	SourceType     string             `json:"source_type"`
	URL            string             `json:"url,omitempty"`
	Count          int                `json:"count"`
	Confidences    []float64          `json:"confidences"`
	Detections     []models.Detection `json:"detections"`
	OriginalImage  string             `json:"original_image"`
	AnnotatedImage string             `json:"annotated_image,omitempty"`
	Message        string             `json:"message,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := s.log.With(zap.String("request_id", uuid.NewString()))

	src, err := parseSource(r, s.maxUploadBytes)
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	img, err := s.acquirer.Acquire(src)
	if err != nil {
		switch {
		case errors.Is(err, acquire.ErrNoSource):
			sendErrorResponse(w, "no_source", "Please provide an image (upload or enter URL)", http.StatusBadRequest)
		case errors.Is(err, acquire.ErrDecode):
			sendErrorResponse(w, "decode_failure", err.Error(), http.StatusBadRequest)
		case errors.Is(err, acquire.ErrNetwork):
			log.Warn("image fetch failed", zap.String("url", src.URL), zap.Error(err))
			sendErrorResponse(w, "network_failure", err.Error(), http.StatusBadGateway)
		default:
			sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	dets, err := s.detector.Detect(img)
	if err != nil {
		if errors.Is(err, detections.ErrUnavailable) {
			sendErrorResponse(w, "model_unavailable", err.Error(), http.StatusServiceUnavailable)
			return
		}
		log.Error("detection failed", zap.Error(err))
		sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
		return
	}

	result := models.DetectionResult{Detections: dets}
	resp := DetectResponse{
		SourceType:  src.Type(),
		Count:       len(dets),
		Confidences: roundedConfidences(dets),
		Detections:  dets,
		Message:     "",
	}
	if len(src.Upload) == 0 {
		resp.URL = src.URL
	}

	resp.OriginalImage, err = encodePNGBase64(img)
	if err != nil {
		log.Error("encoding original image", zap.Error(err))
		sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
		return
	}

	if len(dets) > 0 {
		result.Annotated = annotate.Render(img, dets)
		resp.AnnotatedImage, err = encodePNGBase64(result.Annotated)
		if err != nil {
			log.Error("encoding annotated image", zap.Error(err))
			sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		resp.Message = msgNoDetections
	}

	log.Info("detection complete",
		zap.String("source", resp.SourceType),
		zap.Int("count", resp.Count),
		zap.Duration("elapsed", time.Since(start)))

	respondJSON(w, resp, http.StatusOK)
}

func (s *Server) handleModelStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, s.status.Status(), http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// parseSource pulls the upload and URL fields from the request. The upload,
// when present, wins; the URL value is still recorded for display.
func parseSource(r *http.Request, maxUploadBytes int64) (acquire.Source, error) {
	var src acquire.Source

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return src, err
	}
	src.URL = r.FormValue("url")

	file, _, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		data, readErr := io.ReadAll(file)
		if readErr != nil {
			return src, readErr
		}
		src.Upload = data
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// URL-only request.
	default:
		return src, err
	}
	return src, nil
}

func roundedConfidences(dets []models.Detection) []float64 {
	out := make([]float64, 0, len(dets))
	for _, d := range dets {
		out = append(out, math.Round(float64(d.Confidence)*100)/100)
	}
	return out
}

func encodePNGBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}
