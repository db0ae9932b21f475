package breakpoint

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/propsim/internal/dynamo"
)

// Dataset is a row-oriented measurement table. The last input column is the
// swept variable.
type Dataset struct {
	Inputs  []string
	Outputs []string
	X       [][]float64
	Y       [][]float64
}

// Sweep is one fixed-configuration scan: the shared key values and the row
// indices ordered by the swept variable.
type Sweep struct {
	Key  []float64
	Rows []int
}

func (d *Dataset) Len() int { return len(d.X) }

// Validate checks shape and finiteness.
func (d *Dataset) Validate() error {
	if d == nil || len(d.X) == 0 {
		return dynamo.ErrEmptySweep
	}
	if len(d.Inputs) == 0 {
		return fmt.Errorf("%w: no input columns", dynamo.ErrMalformedSweep)
	}
	if len(d.Y) != len(d.X) {
		return fmt.Errorf("%w: %d input rows but %d output rows", dynamo.ErrMalformedSweep, len(d.X), len(d.Y))
	}
	for i := range d.X {
		if len(d.X[i]) != len(d.Inputs) {
			return fmt.Errorf("%w: row %d has %d inputs, want %d", dynamo.ErrMalformedSweep, i, len(d.X[i]), len(d.Inputs))
		}
		if len(d.Y[i]) != len(d.Outputs) {
			return fmt.Errorf("%w: row %d has %d outputs, want %d", dynamo.ErrMalformedSweep, i, len(d.Y[i]), len(d.Outputs))
		}
		for _, v := range d.X[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: row %d has non-finite input", dynamo.ErrMalformedSweep, i)
			}
		}
	}
	return nil
}

// Sweeps groups rows by every input except the last. Groups are ordered by
// key and rows within a group by the swept value.
func (d *Dataset) Sweeps() ([]Sweep, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	nKey := len(d.Inputs) - 1

	index := make(map[string]int)
	var sweeps []Sweep
	for i, row := range d.X {
		k := fmt.Sprint(row[:nKey])
		g, ok := index[k]
		if !ok {
			g = len(sweeps)
			index[k] = g
			sweeps = append(sweeps, Sweep{Key: append([]float64(nil), row[:nKey]...)})
		}
		sweeps[g].Rows = append(sweeps[g].Rows, i)
	}

	for _, sw := range sweeps {
		rows := sw.Rows
		sort.SliceStable(rows, func(a, b int) bool {
			return d.X[rows[a]][nKey] < d.X[rows[b]][nKey]
		})
	}
	sort.SliceStable(sweeps, func(a, b int) bool {
		ka, kb := sweeps[a].Key, sweeps[b].Key
		for i := range ka {
			if ka[i] != kb[i] {
				return ka[i] < kb[i]
			}
		}
		return false
	})
	return sweeps, nil
}

// Filter returns the rows whose mask entry is true.
func (d *Dataset) Filter(keep []bool) *Dataset {
	out := &Dataset{
		Inputs:  append([]string(nil), d.Inputs...),
		Outputs: append([]string(nil), d.Outputs...),
	}
	for i := range d.X {
		if i < len(keep) && keep[i] {
			out.X = append(out.X, append([]float64(nil), d.X[i]...))
			out.Y = append(out.Y, append([]float64(nil), d.Y[i]...))
		}
	}
	return out
}

// Target returns the column of the named output.
func (d *Dataset) Target(name string) ([]float64, error) {
	col := -1
	for i, o := range d.Outputs {
		if o == name {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: no output column %q", dynamo.ErrMalformedSweep, name)
	}
	y := make([]float64, len(d.Y))
	for i, row := range d.Y {
		y[i] = row[col]
	}
	return y, nil
}
