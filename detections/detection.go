package detections

import (
	"fmt"
	"image"
	"runtime"
	"sort"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/Mystic-Gaurab/text-detection-pt/models"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return make([]float32, InputSize*InputSize*3)
	},
}

// Detect runs the model over the loader's shared session. Returning zero
// detections is a valid outcome, not an error.
func (l *Loader) Detect(img image.Image) ([]models.Detection, error) {
	session, err := l.Get()
	if err != nil {
		return nil, err
	}
	return Detect(img, session)
}

// Detect resizes img to the model input, runs inference, and converts the
// raw output into confidence-filtered detections sorted by descending
// confidence, with boxes mapped back to the original image dimensions.
func Detect(img image.Image, model *ModelSession) ([]models.Detection, error) {
	resized := imaging.Resize(img, InputSize, InputSize, imaging.Linear)

	model.mu.Lock()
	defer model.mu.Unlock()

	buffer := bufferPool.Get().([]float32)
	defer bufferPool.Put(buffer)

	fillInput(resized, buffer)
	copy(model.input.GetData(), buffer)

	if err := model.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	detections, err := processPredictions(model.output.GetData(), img.Bounds().Dx(), img.Bounds().Dy())
	if err != nil {
		return nil, fmt.Errorf("process predictions: %w", err)
	}
	return detections, nil
}

// fillInput writes img into buffer in CHW float32 order, rows split across
// workers. buffer must hold InputSize*InputSize*3 values.
func fillInput(img image.Image, buffer []float32) {
	channelSize := InputSize * InputSize
	numWorkers := runtime.NumCPU()
	rowsPerWorker := InputSize / numWorkers
	if rowsPerWorker == 0 {
		rowsPerWorker = InputSize
		numWorkers = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := startY + rowsPerWorker
		if w == numWorkers-1 {
			endY = InputSize
		}

		wg.Add(1)
		go func(startY, endY int) {
			defer wg.Done()
			for y := startY; y < endY; y++ {
				offset := y * InputSize
				for x := 0; x < InputSize; x++ {
					i := offset + x
					r, g, b, _ := img.At(x, y).RGBA()
					buffer[i] = float32(r>>8) / 255.0
					buffer[channelSize+i] = float32(g>>8) / 255.0
					buffer[channelSize*2+i] = float32(b>>8) / 255.0
				}
			}
		}(startY, endY)
	}
	wg.Wait()
}

func processPredictions(predictions []float32, originalWidth, originalHeight int) ([]models.Detection, error) {
	expected := outputChannels * NumPredictions
	if len(predictions) != expected {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expected)
	}

	detections := make([]models.Detection, 0, 100)
	for i := 0; i < NumPredictions; i++ {
		confidence := predictions[4*NumPredictions+i]
		if confidence < ConfThreshold {
			continue
		}
		bbox := calculateBBox(
			[4]float32{
				predictions[i],
				predictions[NumPredictions+i],
				predictions[2*NumPredictions+i],
				predictions[3*NumPredictions+i],
			},
			float32(originalWidth),
			float32(originalHeight),
		)
		detections = append(detections, models.Detection{
			Box:        bbox,
			Confidence: confidence,
		})
	}

	sortDetectionsByConfidence(detections)
	return detections, nil
}

// calculateBBox converts normalized center coordinates into corner boxes
// scaled to the original image and clamped to its bounds.
func calculateBBox(coords [4]float32, origWidth, origHeight float32) [4]int32 {
	scaleX := origWidth / InputSize
	scaleY := origHeight / InputSize

	centerX := coords[0] * InputSize
	centerY := coords[1] * InputSize
	width := coords[2] * InputSize
	height := coords[3] * InputSize

	x1 := (centerX - width/2) * scaleX
	y1 := (centerY - height/2) * scaleY
	x2 := (centerX + width/2) * scaleX
	y2 := (centerY + height/2) * scaleY

	return [4]int32{
		int32(maxF32(0, x1)),
		int32(maxF32(0, y1)),
		int32(minF32(origWidth, x2)),
		int32(minF32(origHeight, y2)),
	}
}

func sortDetectionsByConfidence(detections []models.Detection) {
	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}

func minF32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxF32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
