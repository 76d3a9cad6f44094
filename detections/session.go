package detections

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Mystic-Gaurab/text-detection-pt/models"
)

// ErrUnavailable marks detection attempts made while the model could not be
// loaded. Callers should surface this as "model not loaded", not retry.
var ErrUnavailable = errors.New("model not loaded")

// ModelSession owns an ONNX inference session together with its
// preallocated input and output tensors. The tensors are reused between
// runs, so a single detection is in flight at a time, serialized on mu.
type ModelSession struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (m *ModelSession) Destroy() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}

// Loader holds the process-wide model handle. The handle is constructed
// lazily on the first Get and is read-only afterwards; a failed load is
// sticky and reported on every subsequent call.
type Loader struct {
	modelPath string
	libPath   string
	log       *zap.Logger

	mu        sync.Mutex
	attempted bool
	session   *ModelSession
	err       error
}

func NewLoader(modelPath, libPath string, log *zap.Logger) *Loader {
	return &Loader{
		modelPath: modelPath,
		libPath:   libPath,
		log:       log,
	}
}

// Get returns the shared model session, loading it on first use. Errors are
// wrapped in ErrUnavailable and repeated without re-attempting the load.
func (l *Loader) Get() (*ModelSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.attempted {
		l.attempted = true
		l.session, l.err = l.load()
		if l.err != nil {
			l.log.Error("model load failed", zap.Error(l.err))
		} else {
			l.log.Info("model loaded", zap.String("path", l.resolvedPath()))
		}
	}

	if l.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, l.err)
	}
	return l.session, nil
}

// Status reports the model state without forcing a load. Before the first
// detection it still surfaces a missing weights file.
func (l *Loader) Status() models.ModelStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := models.ModelStatus{Path: l.resolvedPath()}
	switch {
	case l.attempted && l.err != nil:
		st.Error = l.err.Error()
	case l.attempted:
		st.Loaded = true
	default:
		if _, err := os.Stat(st.Path); err != nil {
			st.Error = fmt.Sprintf("model file not found at: %s", st.Path)
		}
	}
	return st
}

// Close releases the session and the ONNX runtime environment.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session != nil {
		l.session.Destroy()
		l.session = nil
	}
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			l.log.Warn("destroying onnx environment", zap.Error(err))
		}
	}
}

func (l *Loader) resolvedPath() string {
	abs, err := filepath.Abs(l.modelPath)
	if err != nil {
		return l.modelPath
	}
	return abs
}

func (l *Loader) load() (*ModelSession, error) {
	path := l.resolvedPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", path)
	}

	if !ort.IsInitialized() {
		if l.libPath != "" {
			ort.SetSharedLibraryPath(l.libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx environment: %w", err)
		}
	}

	return initSession(path)
}

func initSession(modelPath string) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	inputShape := ort.NewShape(1, 3, InputSize, InputSize)
	outputShape := ort.NewShape(1, outputChannels, NumPredictions)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
	}, nil
}
