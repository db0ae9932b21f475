package storage

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/san-kum/propsim/internal/propulsion"
)

// Report is the exported form of a sweep.
type Report struct {
	Variant       string                      `json:"variant"`
	Prop          string                      `json:"prop"`
	VelocityUnits string                      `json:"velocity_units"`
	PowerLimit    float64                     `json:"power_limit,omitempty"`
	Points        []propulsion.OperatingPoint `json:"points"`
	Metrics       map[string]float64          `json:"metrics"`
}

func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

var reportColumns = []string{
	"velocity", "throttle", "current", "rpm", "thrust",
	"battery_power", "esc_power", "motor_power", "prop_power", "efficiency", "iterations",
}

// WriteCSV writes one row per operating point in SI units.
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportColumns); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	for _, op := range r.Points {
		row := []string{
			f(op.Velocity), f(op.Throttle), f(op.Current), f(op.RPM), f(op.Thrust),
			f(op.BatteryPower), f(op.ESCPower), f(op.MotorPower), f(op.PropPower), f(op.Efficiency),
			strconv.Itoa(op.Iterations),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFile writes the report as CSV when path ends in .csv and as JSON
// otherwise.
func ExportFile(path string, r *Report) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if filepath.Ext(path) == ".csv" {
		return WriteCSV(file, r)
	}
	return WriteJSON(file, r)
}
