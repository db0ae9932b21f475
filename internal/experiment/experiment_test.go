package experiment

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/san-kum/propsim/internal/breakpoint"
	"github.com/san-kum/propsim/internal/config"
	"github.com/san-kum/propsim/internal/dynamo"
	"github.com/san-kum/propsim/internal/storage"
	"github.com/san-kum/propsim/internal/surrogate"
)

func sweepConfig(workers int) *config.Config {
	cfg := config.GetPreset("scenario")
	cfg.Sweep.Points = 5
	cfg.Sweep.MaxVelocity = 40
	cfg.Sweep.Workers = workers
	return cfg
}

func TestSweep(t *testing.T) {
	cfg := sweepConfig(2)
	var mu sync.Mutex
	seen := map[int]bool{}

	exp := New(cfg, NewRegistry(nil), nil)
	exp.OnSample = func(s Sample) {
		mu.Lock()
		defer mu.Unlock()
		seen[s.Index] = true
	}

	samples, err := exp.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(samples) != 5 || len(seen) != 5 {
		t.Fatalf("expected 5 samples and callbacks, got %d and %d", len(samples), len(seen))
	}
	if Failed(samples) != 0 {
		t.Fatalf("unexpected failures: %+v", samples)
	}

	pts := Points(samples)
	for i, s := range samples {
		if s.Index != i || s.Velocity != 10*float64(i) {
			t.Errorf("sample %d has index %d velocity %f", i, s.Index, s.Velocity)
		}
		if math.Abs(pts[i].Velocity-s.Velocity*0.44704) > 1e-9 {
			t.Errorf("sample %d velocity %f m/s not converted", i, pts[i].Velocity)
		}
		if math.Abs(pts[i].PowerBalance()) > 1e-6 {
			t.Errorf("sample %d power balance %g", i, pts[i].PowerBalance())
		}
	}
	if pts[4].Thrust >= pts[0].Thrust {
		t.Errorf("thrust should fall with airspeed: %f at rest, %f at 40 mi/h", pts[0].Thrust, pts[4].Thrust)
	}
}

func TestSweepWorkerCountDoesNotChangeResults(t *testing.T) {
	serial, err := New(sweepConfig(1), NewRegistry(nil), nil).Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	parallel, err := New(sweepConfig(4), NewRegistry(nil), nil).Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for i := range serial {
		if serial[i].Point != parallel[i].Point {
			t.Errorf("point %d differs: %+v vs %+v", i, serial[i].Point, parallel[i].Point)
		}
	}
}

func TestPowerLimitedSweep(t *testing.T) {
	cfg := config.GetPreset("power_limited")
	cfg.Sweep.Points = 3
	cfg.Sweep.MaxVelocity = 30

	samples, err := New(cfg, NewRegistry(nil), nil).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	for _, s := range samples {
		if s.Err != nil {
			t.Fatalf("point %d failed: %v", s.Index, s.Err)
		}
		if s.Point.BatteryPower > cfg.Sweep.PowerLimit {
			t.Errorf("point %d draws %f W over the %f W limit", s.Index, s.Point.BatteryPower, cfg.Sweep.PowerLimit)
		}
		if s.Point.Throttle <= 0 || s.Point.Throttle > 1 {
			t.Errorf("point %d throttle %f out of range", s.Index, s.Point.Throttle)
		}
	}
}

func TestSweepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(sweepConfig(2), NewRegistry(nil), nil).Sweep(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSweepZeroThrottleReportsEveryPoint(t *testing.T) {
	cfg := sweepConfig(2)
	cfg.ESC.Throttle = 0
	samples, err := New(cfg, NewRegistry(nil), nil).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if Failed(samples) != len(samples) {
		t.Fatalf("expected every point to fail, %d did", Failed(samples))
	}
	for _, s := range samples {
		if !errors.Is(s.Err, dynamo.ErrZeroThrottle) {
			t.Errorf("point %d: expected zero throttle error, got %v", s.Index, s.Err)
		}
	}
}

// motorSweeps builds two identifiers of dynamometer data, each with two
// throttle sweeps of 20 velocities.
func motorSweeps() storage.Measurements {
	m := storage.Measurements{}
	for _, id := range []string{"motor_a", "motor_b"} {
		d := &breakpoint.Dataset{Inputs: storage.MotorLayout.Inputs, Outputs: storage.MotorLayout.Outputs}
		for _, throttle := range []float64{0.5, 1} {
			for v := 0.0; v < 20; v++ {
				d.X = append(d.X, []float64{22, 10, throttle, v})
				d.Y = append(d.Y, []float64{40*throttle - 0.5*v, 1000*throttle - 5*v})
			}
		}
		m[id] = d
	}
	return m
}

func TestTrain(t *testing.T) {
	repo := storage.NewMemoryStore()
	tr := NewTrainer(repo, config.ReduceConfig{Samples: 10, Workers: 2}, surrogate.DefaultOptions(), nil)

	results, err := tr.Train(context.Background(), motorSweeps())
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if len(results) != 2 || results[0].ID != "motor_a" || results[1].ID != "motor_b" {
		t.Fatalf("unexpected results %+v", results)
	}
	for _, r := range results {
		if r.Reused || r.Raw != 40 || r.Reduced != 20 {
			t.Errorf("%s: reused=%v raw=%d reduced=%d", r.ID, r.Reused, r.Raw, r.Reduced)
		}
		if _, ok, _ := repo.Load(r.ID); !ok {
			t.Errorf("%s not saved", r.ID)
		}
	}

	m, err := results[0].Bundle.Model("thrust")
	if err != nil {
		t.Fatal(err)
	}
	got, _, _, err := m.Predict([]float64{22, 10, 1, 5})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-37.5) > 0.05 {
		t.Errorf("thrust prediction %f, want 37.5", got)
	}

	again, err := tr.Train(context.Background(), motorSweeps())
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range again {
		if !r.Reused || r.Bundle != results[i].Bundle {
			t.Errorf("%s was retrained", r.ID)
		}
	}
}

func TestTrainRejectsMalformedSweep(t *testing.T) {
	m := motorSweeps()
	m["motor_b"].X[3][3] = math.NaN()

	repo := storage.NewMemoryStore()
	_, err := NewTrainer(repo, config.ReduceConfig{Samples: 10}, surrogate.DefaultOptions(), nil).Train(context.Background(), m)
	if !errors.Is(err, dynamo.ErrDataReduction) {
		t.Fatalf("expected data reduction error, got %v", err)
	}
	if _, ok, _ := repo.Load("motor_b"); ok {
		t.Error("malformed sweep must not produce a bundle")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(storage.NewMemoryStore())

	if got := reg.ListVariants(); len(got) != 2 || got[0] != config.VariantElectric {
		t.Errorf("unexpected variants %v", got)
	}
	if got := reg.ListPropellers(); len(got) != 2 {
		t.Errorf("unexpected propellers %v", got)
	}

	cfg := config.GetPreset("surrogate")
	if _, err := reg.Build(cfg, nil); !errors.Is(err, dynamo.ErrSurrogateFit) {
		t.Errorf("expected missing model error, got %v", err)
	}

	cfg = config.DefaultConfig()
	cfg.Prop.Model = "blade-element"
	if _, err := reg.Build(cfg, nil); err == nil {
		t.Error("expected unknown propeller error")
	}

	cfg = config.DefaultConfig()
	cfg.Prop.Coefficients = map[string]float64{"rho": 1.0, "cd0": 0.02}
	if _, err := reg.Build(cfg, nil); !errors.Is(err, dynamo.ErrGraphAssembly) {
		t.Errorf("expected unknown coefficient error, got %v", err)
	}

	cfg = config.DefaultConfig()
	cfg.Variant = "hybrid"
	if _, err := reg.Build(cfg, nil); err == nil {
		t.Error("expected unknown variant error")
	}
}

func TestSurrogateSweep(t *testing.T) {
	d := &breakpoint.Dataset{Inputs: []string{"rpm", "velocity"}, Outputs: []string{"thrust", "power"}}
	for rpm := 3000.0; rpm <= 7000; rpm += 500 {
		for v := 0.0; v <= 10; v += 5 {
			d.X = append(d.X, []float64{rpm, v})
			d.Y = append(d.Y, []float64{1e-6*rpm*rpm - 0.2*v, 5.4e-9 * rpm * rpm * rpm})
		}
	}
	repo := storage.NewMemoryStore()
	b, err := surrogate.Train("static", d, surrogate.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Save("static", b); err != nil {
		t.Fatal(err)
	}

	cfg := config.GetPreset("surrogate")
	cfg.Prop.ID = "static"
	cfg.Sweep.Points = 3
	cfg.Sweep.MaxVelocity = 10
	cfg.Sweep.VelocityUnits = "m/s"

	samples, err := New(cfg, NewRegistry(repo), nil).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	for _, s := range samples {
		if s.Err != nil {
			t.Fatalf("point %d failed: %v", s.Index, s.Err)
		}
		if s.Point.Thrust <= 0 {
			t.Errorf("point %d thrust %f", s.Index, s.Point.Thrust)
		}
	}
}
