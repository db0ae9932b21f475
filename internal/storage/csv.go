package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/propsim/internal/breakpoint"
	"github.com/san-kum/propsim/internal/dynamo"
)

// Layout names the columns of a measurement table. The last input is the
// swept variable.
type Layout struct {
	ID      string
	Inputs  []string
	Outputs []string
}

var (
	// MotorLayout is a motor and propeller dynamometer sweep.
	MotorLayout = Layout{
		ID:      "motor",
		Inputs:  []string{"propDiameter", "propPitch", "throttle", "velocity"},
		Outputs: []string{"thrust", "inputPower"},
	}
	// PropellerLayout is a propeller-only sweep in drivetrain port names.
	PropellerLayout = Layout{
		ID:      "prop",
		Inputs:  []string{"diameter", "pitch", "rpm", "velocity"},
		Outputs: []string{"thrust", "power"},
	}
)

// Layouts maps the names accepted on the command line.
var Layouts = map[string]Layout{
	"motor":     MotorLayout,
	"propeller": PropellerLayout,
}

type table struct {
	cols map[string]int
	rows [][]string
}

func readTable(r io.Reader) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, dynamo.ErrEmptySweep
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrMalformedSweep, err)
	}
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrMalformedSweep, err)
	}
	t := &table{cols: make(map[string]int, len(header)), rows: rows}
	for i, name := range header {
		t.cols[strings.TrimSpace(name)] = i
	}
	return t, nil
}

func (t *table) index(names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		c, ok := t.cols[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %q", dynamo.ErrMalformedSweep, name)
		}
		idx[i] = c
	}
	return idx, nil
}

func parseRow(row []string, idx []int, line int) ([]float64, error) {
	out := make([]float64, len(idx))
	for i, c := range idx {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[c]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", dynamo.ErrMalformedSweep, line, err)
		}
		out[i] = v
	}
	return out, nil
}

// ReadDataset reads the named columns of a CSV table with a header row.
func ReadDataset(r io.Reader, inputs, outputs []string) (*breakpoint.Dataset, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	in, err := t.index(inputs)
	if err != nil {
		return nil, err
	}
	out, err := t.index(outputs)
	if err != nil {
		return nil, err
	}

	d := &breakpoint.Dataset{Inputs: inputs, Outputs: outputs}
	for i, row := range t.rows {
		x, err := parseRow(row, in, i+2)
		if err != nil {
			return nil, err
		}
		y, err := parseRow(row, out, i+2)
		if err != nil {
			return nil, err
		}
		d.X = append(d.X, x)
		d.Y = append(d.Y, y)
	}
	if d.Len() == 0 {
		return nil, dynamo.ErrEmptySweep
	}
	return d, nil
}

// Measurements holds raw sweeps grouped by identifier.
type Measurements map[string]*breakpoint.Dataset

// IDs returns the identifiers in sorted order.
func (m Measurements) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ImportMeasurements reads a raw measurement table and groups its rows by
// the layout's identifier column.
func ImportMeasurements(r io.Reader, layout Layout) (Measurements, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	idCol, ok := t.cols[layout.ID]
	if !ok {
		return nil, fmt.Errorf("%w: missing identifier column %q", dynamo.ErrMalformedSweep, layout.ID)
	}
	in, err := t.index(layout.Inputs)
	if err != nil {
		return nil, err
	}
	out, err := t.index(layout.Outputs)
	if err != nil {
		return nil, err
	}

	m := Measurements{}
	for i, row := range t.rows {
		id := strings.TrimSpace(row[idCol])
		if id == "" {
			return nil, fmt.Errorf("%w: line %d: empty %s", dynamo.ErrMalformedSweep, i+2, layout.ID)
		}
		x, err := parseRow(row, in, i+2)
		if err != nil {
			return nil, err
		}
		y, err := parseRow(row, out, i+2)
		if err != nil {
			return nil, err
		}
		d, ok := m[id]
		if !ok {
			d = &breakpoint.Dataset{Inputs: layout.Inputs, Outputs: layout.Outputs}
			m[id] = d
		}
		d.X = append(d.X, x)
		d.Y = append(d.Y, y)
	}
	if len(m) == 0 {
		return nil, dynamo.ErrEmptySweep
	}
	return m, nil
}

func ImportFile(path string, layout Layout) (Measurements, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ImportMeasurements(f, layout)
}
