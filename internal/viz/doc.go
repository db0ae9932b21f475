// Package viz renders drivetrain results in the terminal.
//
//   - [RenderPoint] and [RenderMetrics]: styled summaries of a solve or sweep
//   - [Plot]: thrust, power and efficiency against airspeed via asciigraph
//   - [SweepModel]: a Bubble Tea view that fills in as sweep points finish
//
// # Key Bindings
//
//	q, Ctrl+C - stop watching (the sweep keeps its results)
package viz
