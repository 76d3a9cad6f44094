package detections

const (
	// InputSize is the square side the model was exported with.
	InputSize = 640

	// ConfThreshold filters out low-confidence predictions.
	ConfThreshold = 0.5

	// NumPredictions is the number of candidate boxes in the model output.
	NumPredictions = 8400

	// outputChannels is cx, cy, w, h plus one confidence channel.
	outputChannels = 5
)
