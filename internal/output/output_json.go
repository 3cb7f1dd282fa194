package output

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/tkjaer/twampd/internal/shared"
)

// JSONOutput writes one JSON object per measurement to a file or stdout
type JSONOutput struct {
	mu       sync.Mutex
	file     *os.File
	enc      *json.Encoder
	toStdout bool
}

func NewJSONOutput(filename string) (*JSONOutput, error) {
	if filename == "" {
		return &JSONOutput{
			file:     os.Stdout,
			enc:      json.NewEncoder(os.Stdout),
			toStdout: true,
		}, nil
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &JSONOutput{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

func (j *JSONOutput) Measurement(m shared.Measurement) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(m)
}

func (j *JSONOutput) CycleComplete(s shared.CycleSummary) {
	// No-op for JSON, each measurement is already a line of its own
}

func (j *JSONOutput) Close() error {
	if j.toStdout {
		return nil
	}
	return j.file.Close()
}
