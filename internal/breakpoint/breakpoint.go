// Package breakpoint down-samples dense measured sweeps before surrogate
// training.
//
// Measurements are grouped into sweeps: all rows sharing the same values of
// every input except the last (for motor maps: diameter, pitch, throttle),
// ordered by the last input (velocity). Each sweep is reduced to at most
// [DefaultSamples] points. Both endpoints always survive and the interval
// around the sweep midpoint keeps the finest resolution.
package breakpoint

import (
	"fmt"

	"github.com/san-kum/propsim/internal/dynamo"
)

// DefaultSamples is the per-sweep sample cap.
const DefaultSamples = 10

// KeepMask returns which of n ordered samples survive reduction to at most
// samples points. The result is deterministic in (n, samples).
func KeepMask(n, samples int) []bool {
	if n < 0 {
		n = 0
	}
	mask := make([]bool, n)
	if n <= samples || n < 2 || samples < 2 {
		for i := range mask {
			mask[i] = true
		}
		return mask
	}

	intervals := samples - 1
	middle := samples/2 - 1
	remove := n - samples
	group := remove / intervals

	// The middle interval takes the odd remainder, the rest follow a
	// 2|offset|-1 pattern so skips shrink away from the middle.
	skip := make([]int, intervals)
	for i := range skip {
		if i == middle {
			skip[i] = group + (remove-group*intervals)%2
			continue
		}
		pattern := 2*abs(i-middle) - 1
		skip[i] = ceilDiv(remove-pattern, intervals)
	}

	idx := 0
	mask[idx] = true
	for _, s := range skip {
		idx += s + 1
		mask[idx] = true
	}
	return mask
}

// Reducer applies [KeepMask] to every sweep of a dataset.
type Reducer struct {
	Samples int
}

func NewReducer() *Reducer {
	return &Reducer{Samples: DefaultSamples}
}

func (r *Reducer) samples() int {
	if r == nil || r.Samples == 0 {
		return DefaultSamples
	}
	return r.Samples
}

// Mask returns the row mask over the whole dataset.
func (r *Reducer) Mask(d *Dataset) ([]bool, error) {
	s := r.samples()
	if s < 2 {
		return nil, fmt.Errorf("%w: sample cap must be at least 2, got %d", dynamo.ErrDataReduction, s)
	}
	sweeps, err := d.Sweeps()
	if err != nil {
		return nil, err
	}

	keep := make([]bool, d.Len())
	for _, sw := range sweeps {
		local := KeepMask(len(sw.Rows), s)
		for i, row := range sw.Rows {
			keep[row] = local[i]
		}
	}
	return keep, nil
}

// Reduce returns a new dataset holding only the kept rows, sweep by sweep.
func (r *Reducer) Reduce(d *Dataset) (*Dataset, error) {
	keep, err := r.Mask(d)
	if err != nil {
		return nil, err
	}
	return d.Filter(keep), nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func ceilDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a > 0) == (b > 0) {
		q++
	}
	return q
}
