package storage

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/propsim/internal/breakpoint"
	"github.com/san-kum/propsim/internal/dynamo"
	"github.com/san-kum/propsim/internal/propulsion"
	"github.com/san-kum/propsim/internal/surrogate"
)

func trainedBundle(t *testing.T, id string) *surrogate.Bundle {
	t.Helper()
	d := &breakpoint.Dataset{
		Inputs:  []string{"rpm", "velocity"},
		Outputs: []string{"thrust", "power"},
	}
	for rpm := 2000.0; rpm <= 6000; rpm += 1000 {
		for v := 0.0; v <= 20; v += 10 {
			d.X = append(d.X, []float64{rpm, v})
			d.Y = append(d.Y, []float64{1e-6*rpm*rpm - 0.1*v, 5e-9 * rpm * rpm * rpm})
		}
	}
	b, err := surrogate.Train(id, d, surrogate.DefaultOptions())
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	return b
}

func TestFileStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir(), surrogate.DefaultOptions())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	orig := trainedBundle(t, "apc22x10")
	if err := st.Save("apc22x10", orig); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, ok, err := st.Load("apc22x10")
	if err != nil || !ok {
		t.Fatalf("load failed: ok=%v err=%v", ok, err)
	}
	if loaded.Data.Len() != orig.Data.Len() {
		t.Errorf("expected %d samples, got %d", orig.Data.Len(), loaded.Data.Len())
	}

	for _, out := range []string{"thrust", "power"} {
		a, _ := orig.Model(out)
		b, err := loaded.Model(out)
		if err != nil {
			t.Fatalf("loaded bundle lacks %s: %v", out, err)
		}
		x := []float64{4500, 5}
		va, _, _, _ := a.Predict(x)
		vb, _, _, err := b.Predict(x)
		if err != nil {
			t.Fatalf("predict failed: %v", err)
		}
		if math.Abs(va-vb) > 1e-9*math.Max(1, math.Abs(va)) {
			t.Errorf("%s: restored prediction %v differs from %v", out, vb, va)
		}
	}
}

func TestFileStoreMissing(t *testing.T) {
	st := New(t.TempDir(), surrogate.DefaultOptions())
	b, ok, err := st.Load("nothing")
	if err != nil {
		t.Fatalf("missing bundle must not be an error: %v", err)
	}
	if ok || b != nil {
		t.Error("expected no bundle")
	}
}

func TestFileStoreInvalidID(t *testing.T) {
	st := New(t.TempDir(), surrogate.DefaultOptions())
	for _, id := range []string{"", "..", "a/b"} {
		if _, _, err := st.Load(id); err == nil {
			t.Errorf("expected error for id %q", id)
		}
	}
}

func TestFileStoreList(t *testing.T) {
	dir := t.TempDir()
	st := New(dir, surrogate.DefaultOptions())

	for _, id := range []string{"motor_b", "motor_a"} {
		if err := st.Save(id, trainedBundle(t, id)); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "stray"), 0755); err != nil {
		t.Fatal(err)
	}

	list, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 bundles, got %d", len(list))
	}
	if list[0].ID != "motor_a" || list[1].ID != "motor_b" {
		t.Errorf("unexpected order: %s, %s", list[0].ID, list[1].ID)
	}
	if len(list[0].Thetas["thrust"]) != 2 {
		t.Errorf("expected cached thetas, got %v", list[0].Thetas)
	}
}

func TestFileStoreFailedSave(t *testing.T) {
	dir := t.TempDir()
	st := New(dir, surrogate.DefaultOptions())

	orig := trainedBundle(t, "motor_a")
	if err := st.Save("motor_a", orig); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	broken := *orig
	broken.Data = &breakpoint.Dataset{
		Inputs:  orig.Data.Inputs,
		Outputs: orig.Data.Outputs,
		X:       orig.Data.X,
		Y:       orig.Data.Y[:1],
	}
	for _, id := range []string{"motor_a", "motor_b"} {
		if err := st.Save(id, &broken); !errors.Is(err, dynamo.ErrMalformedSweep) {
			t.Fatalf("%s: expected malformed training set, got %v", id, err)
		}
	}

	loaded, ok, err := st.Load("motor_a")
	if err != nil || !ok {
		t.Fatalf("previous bundle lost: ok=%v err=%v", ok, err)
	}
	if loaded.Data.Len() != orig.Data.Len() {
		t.Errorf("expected %d samples, got %d", orig.Data.Len(), loaded.Data.Len())
	}
	if _, ok, err := st.Load("motor_b"); ok || err != nil {
		t.Errorf("failed first save must read as missing, got ok=%v err=%v", ok, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "motor_a" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("scratch directories left behind: %v", names)
	}
}

func TestFileStoreHalfWrittenReadsAsMissing(t *testing.T) {
	dir := t.TempDir()
	st := New(dir, surrogate.DefaultOptions())
	if err := st.Save("motor_a", trainedBundle(t, "motor_a")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "motor_a", "training.csv")); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := st.Load("motor_a"); ok || err != nil {
		t.Errorf("expected missing bundle, got ok=%v err=%v", ok, err)
	}
}

func TestFileStoreListMissingDir(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "absent"), surrogate.DefaultOptions())
	list, err := st.List()
	if err != nil || len(list) != 0 {
		t.Errorf("expected empty list, got %v, %v", list, err)
	}
}

func TestMemoryStore(t *testing.T) {
	var repo Repository = NewMemoryStore()
	if _, ok, _ := repo.Load("x"); ok {
		t.Error("empty store reported a bundle")
	}
	b := trainedBundle(t, "x")
	if err := repo.Save("x", b); err != nil {
		t.Fatal(err)
	}
	got, ok, err := repo.Load("x")
	if err != nil || !ok || got != b {
		t.Errorf("load returned %v, %v, %v", got, ok, err)
	}
	list, _ := repo.List()
	if len(list) != 1 || list[0].Samples != b.Data.Len() {
		t.Errorf("unexpected list %+v", list)
	}
}

const measurements = `motor,propDiameter,propPitch,throttle,velocity,thrust,inputPower
m1,22,10,1,0,40.1,900
m1,22,10,1,5,35.2,880
m2,20,8,0.5,0,12.3,210
`

func TestImportMeasurements(t *testing.T) {
	m, err := ImportMeasurements(strings.NewReader(measurements), MotorLayout)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	ids := m.IDs()
	if len(ids) != 2 || ids[0] != "m1" || ids[1] != "m2" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if m["m1"].Len() != 2 {
		t.Errorf("expected 2 rows for m1, got %d", m["m1"].Len())
	}
	if got := m["m1"].X[1]; got[3] != 5 || got[0] != 22 {
		t.Errorf("unexpected inputs %v", got)
	}
	if got := m["m2"].Y[0]; got[0] != 12.3 || got[1] != 210 {
		t.Errorf("unexpected outputs %v", got)
	}
}

func TestImportMeasurementsErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", dynamo.ErrEmptySweep},
		{"header only", "motor,propDiameter,propPitch,throttle,velocity,thrust,inputPower\n", dynamo.ErrEmptySweep},
		{"missing column", "motor,propDiameter,throttle,velocity,thrust,inputPower\nm,1,1,0,1,1\n", dynamo.ErrMalformedSweep},
		{"bad number", "motor,propDiameter,propPitch,throttle,velocity,thrust,inputPower\nm,22,10,full,0,1,1\n", dynamo.ErrMalformedSweep},
		{"no identifier", "propDiameter,propPitch,throttle,velocity,thrust,inputPower\n22,10,1,0,1,1\n", dynamo.ErrMalformedSweep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportMeasurements(strings.NewReader(tt.input), MotorLayout)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, dynamo.ErrDataReduction) {
				t.Errorf("error %v is not a data reduction error", err)
			}
		})
	}
}

func TestReadDatasetColumnOrder(t *testing.T) {
	input := "power,velocity,thrust,rpm\n100,0,2,3000\n"
	d, err := ReadDataset(strings.NewReader(input), []string{"rpm", "velocity"}, []string{"thrust", "power"})
	if err != nil {
		t.Fatal(err)
	}
	if d.X[0][0] != 3000 || d.X[0][1] != 0 || d.Y[0][0] != 2 || d.Y[0][1] != 100 {
		t.Errorf("columns not reordered: %v %v", d.X[0], d.Y[0])
	}
}

func TestWriteCSVReport(t *testing.T) {
	r := &Report{
		Variant: "electric",
		Points: []propulsion.OperatingPoint{
			{Velocity: 0, Throttle: 1, Current: 50, Thrust: 20, Iterations: 4},
			{Velocity: 10, Throttle: 1, Current: 45, Thrust: 15, Iterations: 3},
		},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, r); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "velocity,throttle,current") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ",4") {
		t.Errorf("unexpected row %q", lines[1])
	}
}

func TestExportFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.json")
	r := &Report{Variant: "rubber", Metrics: map[string]float64{"peak_thrust": 30}}
	if err := ExportFile(path, r); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"peak_thrust": 30`)) {
		t.Errorf("unexpected export %s", data)
	}
}
