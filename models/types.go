package models

import "image"

// Detection is one predicted text region: a bounding box in original image
// coordinates (x1, y1, x2, y2) and a confidence score in [0, 1].
type Detection struct {
	Box        [4]int32 `json:"box"`
	Confidence float32  `json:"confidence"`
}

// DetectionResult holds everything produced for a single request. It is
// built fresh per request and never cached.
type DetectionResult struct {
	Detections []Detection
	Annotated  image.Image
}

// ModelStatus reports whether the detection model is usable and where its
// weights were resolved from.
type ModelStatus struct {
	Loaded bool   `json:"loaded"`
	Path   string `json:"path"`
	Error  string `json:"error,omitempty"`
}
