package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/propsim/internal/config"
	"github.com/san-kum/propsim/internal/experiment"
	"github.com/san-kum/propsim/internal/logging"
	"github.com/san-kum/propsim/internal/metrics"
	"github.com/san-kum/propsim/internal/optim"
	"github.com/san-kum/propsim/internal/propulsion"
	"github.com/san-kum/propsim/internal/storage"
	"github.com/san-kum/propsim/internal/surrogate"
	"github.com/san-kum/propsim/internal/units"
	"github.com/san-kum/propsim/internal/viz"
)

var (
	modelDir   string
	configFile string
	preset     string
	logLevel   string
	logFormat  string

	variant   string
	propModel string
	propID    string
	clamp     bool
	throttle  float64
	velocity  float64
	velUnits  string

	points      int
	maxVelocity float64
	powerLimit  float64
	workers     int
	plot        bool
	live        bool
	outFile     string

	layout  string
	samples int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "propsim",
		Short:         "electric propulsion drivetrain simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&modelDir, "models", "", "trained model directory (default from config)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "use preset configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "text or json")

	trainCmd := &cobra.Command{
		Use:   "train [measurements.csv]",
		Short: "reduce raw sweeps and train surrogate models",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrain,
	}
	trainCmd.Flags().StringVar(&layout, "layout", "motor", "table layout: motor or propeller")
	trainCmd.Flags().IntVar(&samples, "samples", config.DefaultSamples, "points kept per sweep")
	trainCmd.Flags().IntVar(&workers, "workers", 0, "parallel identifiers (0 = all cpus)")

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list trained models",
		RunE:  listModels,
	}

	solveCmd := &cobra.Command{
		Use:   "solve",
		Short: "solve one operating point",
		RunE:  runSolve,
	}
	addDrivetrainFlags(solveCmd)
	solveCmd.Flags().Float64Var(&throttle, "throttle", config.DefaultThrottle, "throttle in (0, 1]")
	solveCmd.Flags().Float64Var(&velocity, "velocity", 0, "airspeed")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "solve across airspeeds",
		RunE:  runSweep,
	}
	addDrivetrainFlags(sweepCmd)
	sweepCmd.Flags().Float64Var(&throttle, "throttle", config.DefaultThrottle, "throttle in (0, 1]")
	sweepCmd.Flags().IntVar(&points, "points", config.DefaultPoints, "number of airspeeds")
	sweepCmd.Flags().Float64Var(&maxVelocity, "max-velocity", config.DefaultMaxVelocity, "highest airspeed")
	sweepCmd.Flags().Float64Var(&powerLimit, "power-limit", 0, "battery power cap in W (0 = full throttle)")
	sweepCmd.Flags().IntVar(&workers, "workers", 0, "parallel workers (0 = all cpus)")
	sweepCmd.Flags().BoolVar(&plot, "plot", false, "plot thrust, power and efficiency")
	sweepCmd.Flags().BoolVar(&live, "live", false, "follow progress in a live view")
	sweepCmd.Flags().StringVar(&outFile, "out", "", "export to .json or .csv")

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "maximise thrust under a battery power limit",
		RunE:  runOptimize,
	}
	addDrivetrainFlags(optimizeCmd)
	optimizeCmd.Flags().Float64Var(&velocity, "velocity", 0, "airspeed")
	optimizeCmd.Flags().Float64Var(&powerLimit, "power-limit", config.DefaultPowerLimit, "battery power cap in W")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("presets:")
			for _, p := range config.ListPresets() {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	unitsCmd := &cobra.Command{
		Use:   "units",
		Short: "list unit tags accepted by --units",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(strings.Join(units.List(), " "))
			return nil
		},
	}

	rootCmd.AddCommand(trainCmd, modelsCmd, solveCmd, sweepCmd, optimizeCmd, presetsCmd, unitsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func addDrivetrainFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&variant, "variant", config.VariantElectric, "electric or rubber")
	cmd.Flags().StringVar(&propModel, "prop", config.PropAnalytic, "analytic or surrogate")
	cmd.Flags().StringVar(&propID, "prop-id", "22x10", "trained propeller identifier")
	cmd.Flags().BoolVar(&clamp, "clamp", false, "clamp surrogate queries to the training domain")
	cmd.Flags().StringVar(&velUnits, "units", "mi/h", "airspeed unit")
}

// loadConfig starts from the preset or defaults, replaces them with the
// config file when given and applies only the flags set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("models") {
		cfg.Reduce.ModelDir = modelDir
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Changed("variant") {
		cfg.Variant = variant
	}
	if flags.Changed("prop") {
		cfg.Prop.Model = propModel
	}
	if flags.Changed("prop-id") {
		cfg.Prop.ID = propID
	}
	if flags.Changed("clamp") {
		cfg.Prop.Clamp = clamp
	}
	if flags.Changed("throttle") {
		cfg.ESC.Throttle = throttle
	}
	if flags.Changed("units") {
		cfg.Sweep.VelocityUnits = velUnits
	}
	if flags.Changed("points") {
		cfg.Sweep.Points = points
	}
	if flags.Changed("max-velocity") {
		cfg.Sweep.MaxVelocity = maxVelocity
	}
	if flags.Changed("power-limit") {
		cfg.Sweep.PowerLimit = powerLimit
	}
	if flags.Changed("workers") {
		cfg.Sweep.Workers = workers
		cfg.Reduce.Workers = workers
	}
	if flags.Changed("samples") {
		cfg.Reduce.Samples = samples
	}
	if cmd.Name() == "optimize" && cfg.Sweep.PowerLimit <= 0 {
		cfg.Sweep.PowerLimit = config.DefaultPowerLimit
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !units.Known(cfg.Sweep.VelocityUnits) {
		return nil, fmt.Errorf("unknown airspeed unit %q", cfg.Sweep.VelocityUnits)
	}
	return cfg, nil
}

func setup(cmd *cobra.Command) (*config.Config, *storage.FileStore, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	st := storage.New(cfg.Reduce.ModelDir, surrogate.DefaultOptions())
	return cfg, st, logging.New(cfg.Logging), nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, st, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	l, ok := storage.Layouts[layout]
	if !ok {
		return fmt.Errorf("unknown layout: %s", layout)
	}
	if err := st.Init(); err != nil {
		return err
	}

	m, err := storage.ImportFile(args[0], l)
	if err != nil {
		return err
	}
	results, err := experiment.NewTrainer(st, cfg.Reduce, surrogate.DefaultOptions(), logger).Train(cmd.Context(), m)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRAW\tREDUCED\tSTATUS\tTIME")
	for _, r := range results {
		status := "trained"
		if r.Reused {
			status = "cached"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", r.ID, r.Raw, r.Reduced, status, r.Duration.Round(time.Millisecond))
	}
	return w.Flush()
}

func listModels(cmd *cobra.Command, args []string) error {
	_, st, _, err := setup(cmd)
	if err != nil {
		return err
	}
	bundles, err := st.List()
	if err != nil {
		return err
	}
	if len(bundles) == 0 {
		fmt.Println("no trained models")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tINPUTS\tOUTPUTS\tSAMPLES\tTRAINED")
	for _, b := range bundles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			b.ID,
			strings.Join(b.Inputs, ","),
			strings.Join(b.Outputs, ","),
			b.Samples,
			b.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}

func buildDrivetrain(cmd *cobra.Command) (*config.Config, *propulsion.Drivetrain, *slog.Logger, error) {
	cfg, st, logger, err := setup(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	d, err := experiment.NewRegistry(st).Build(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, d, logger, nil
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, d, _, err := buildDrivetrain(cmd)
	if err != nil {
		return err
	}
	if err := d.Set(propulsion.Velocity, velocity, cfg.Sweep.VelocityUnits); err != nil {
		return err
	}
	if err := d.Solve(cmd.Context()); err != nil {
		return err
	}
	op, err := d.OperatingPoint()
	if err != nil {
		return err
	}
	fmt.Println(viz.RenderPoint(fmt.Sprintf("%s drivetrain, %s prop", cfg.Variant, cfg.Prop.Model), op))
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, st, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	exp := experiment.New(cfg, experiment.NewRegistry(st), logger)

	var results []experiment.Sample
	if live {
		results, err = viz.RunSweep(cmd.Context(), exp, cfg.Sweep.Points, cfg.Sweep.VelocityUnits)
	} else {
		results, err = exp.Sweep(cmd.Context())
	}
	if err != nil {
		return err
	}

	pts := experiment.Points(results)
	ms := metrics.Evaluate(pts, metrics.Defaults(cfg.Sweep.PowerLimit))

	if !live {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "V (%s)\tTHROTTLE\tCURRENT\tRPM\tTHRUST\tBATTERY\tEFF\tITER\n", cfg.Sweep.VelocityUnits)
		for _, s := range results {
			if s.Err != nil {
				fmt.Fprintf(w, "%.2f\tfailed: %v\n", s.Velocity, s.Err)
				continue
			}
			op := s.Point
			fmt.Fprintf(w, "%.2f\t%.4f\t%.2f\t%.0f\t%.3f\t%.1f\t%.4f\t%d\n",
				s.Velocity, op.Throttle, op.Current, op.RPM, op.Thrust, op.BatteryPower, op.Efficiency, op.Iterations)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Println()
	}
	fmt.Println(viz.RenderMetrics(ms))

	if plot {
		fmt.Println()
		fmt.Println(viz.Plot(pts, cfg.Sweep.VelocityUnits))
	}

	if outFile != "" {
		report := &storage.Report{
			Variant:       cfg.Variant,
			Prop:          cfg.Prop.Model,
			VelocityUnits: cfg.Sweep.VelocityUnits,
			PowerLimit:    cfg.Sweep.PowerLimit,
			Points:        pts,
			Metrics:       ms,
		}
		if err := storage.ExportFile(outFile, report); err != nil {
			return err
		}
		fmt.Printf("exported to: %s\n", outFile)
	}

	if n := experiment.Failed(results); n > 0 {
		return fmt.Errorf("%d of %d points failed", n, len(results))
	}
	return nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cfg, d, _, err := buildDrivetrain(cmd)
	if err != nil {
		return err
	}
	if err := d.Set(propulsion.Velocity, velocity, cfg.Sweep.VelocityUnits); err != nil {
		return err
	}

	p := optim.Problem{
		Objective:  propulsion.Thrust,
		Constraint: propulsion.BatteryPower,
		Limit:      cfg.Sweep.PowerLimit,
		Guess:      map[string]float64{propulsion.Current: cfg.Sweep.InitialCurrent},
	}
	res, err := optim.DefaultBisection(propulsion.Throttle).Maximize(cmd.Context(), d, p)
	if err != nil {
		return err
	}
	op, err := d.OperatingPoint()
	if err != nil {
		return err
	}

	state := viz.StatusOK.Render("full throttle within limit")
	if res.Active {
		state = viz.StatusFail.Render(fmt.Sprintf("limited by %.0f W", cfg.Sweep.PowerLimit))
	}
	fmt.Println(viz.RenderPoint("power-limited thrust", op))
	fmt.Printf("%s after %d solves\n", state, res.Evaluations)
	return nil
}
