package output

import (
	"errors"

	"github.com/tkjaer/twampd/internal/shared"
)

// Output interface for different output types
type Output interface {
	Measurement(m shared.Measurement)
	CycleComplete(s shared.CycleSummary)
	Close() error
}

// OutputManager manages multiple outputs
type OutputManager struct {
	outputs []Output
}

func (om *OutputManager) Register(o Output) {
	om.outputs = append(om.outputs, o)
}

func (om *OutputManager) Measurement(m shared.Measurement) {
	for _, o := range om.outputs {
		o.Measurement(m)
	}
}

func (om *OutputManager) CycleComplete(s shared.CycleSummary) {
	for _, o := range om.outputs {
		o.CycleComplete(s)
	}
}

// Close closes every registered output and returns their joined errors.
func (om *OutputManager) Close() error {
	var errs []error
	for _, o := range om.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
