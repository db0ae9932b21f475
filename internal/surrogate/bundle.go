package surrogate

import (
	"fmt"

	"github.com/san-kum/propsim/internal/breakpoint"
	"github.com/san-kum/propsim/internal/dynamo"
)

// Bundle groups the models trained for one identifier (a motor or a
// propeller family). Every output shares the same feature columns.
type Bundle struct {
	ID      string
	Inputs  []string
	Outputs []string
	// Data is the reduced training set the models were fitted on.
	Data   *breakpoint.Dataset
	models map[string]*Model
}

// Train fits one model per output of an already reduced dataset.
func Train(id string, data *breakpoint.Dataset, opts Options) (*Bundle, error) {
	return build(id, data, nil, opts)
}

// Restore refits models with cached correlation parameters, so loading a
// bundle never repeats the likelihood search.
func Restore(id string, data *breakpoint.Dataset, thetas map[string][]float64, opts Options) (*Bundle, error) {
	if thetas == nil {
		thetas = map[string][]float64{}
	}
	return build(id, data, thetas, opts)
}

func build(id string, data *breakpoint.Dataset, thetas map[string][]float64, opts Options) (*Bundle, error) {
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("%w: bundle %s: %v", dynamo.ErrSurrogateFit, id, err)
	}
	b := &Bundle{
		ID:      id,
		Inputs:  append([]string(nil), data.Inputs...),
		Outputs: append([]string(nil), data.Outputs...),
		Data:    data,
		models:  make(map[string]*Model, len(data.Outputs)),
	}
	for _, name := range data.Outputs {
		y, err := data.Target(name)
		if err != nil {
			return nil, err
		}
		var m *Model
		if th, ok := thetas[name]; ok {
			m, err = FitWithThetas(data.X, y, th, opts)
		} else {
			m, err = Fit(data.X, y, opts)
		}
		if err != nil {
			return nil, fmt.Errorf("bundle %s output %s: %w", id, name, err)
		}
		b.models[name] = m
	}
	return b, nil
}

// Model returns the model for the named output.
func (b *Bundle) Model(output string) (*Model, error) {
	m, ok := b.models[output]
	if !ok {
		return nil, fmt.Errorf("%w: bundle %s has no output %q", dynamo.ErrSurrogateFit, b.ID, output)
	}
	return m, nil
}

// Thetas returns the fitted correlation parameters keyed by output.
func (b *Bundle) Thetas() map[string][]float64 {
	out := make(map[string][]float64, len(b.models))
	for name, m := range b.models {
		out[name] = m.Thetas()
	}
	return out
}
