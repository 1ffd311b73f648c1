package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	Input        string
	ConfigFile   string
	ReportCache  string
	OutputFile   string
	RenderFormat string
	GeoJSONFile  string
	Threshold    int
	Workers      int
	HttpPort     int
	RenderOnly   bool
	Fetch        bool
	MqttMode     bool
	HttpMode     bool
}

// Runner is the set of modes main dispatches to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunMerge() error
	RunRender() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run parses args, applies them to app and dispatches to one mode.
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("beaconmesh", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.Input, "input", "", "Scanner report file (--- scanner N --- blocks)")
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.ReportCache, "report-cache", ".beacon-report.json", "Path to the persisted merge report (empty disables)")
	fs.StringVar(&opts.OutputFile, "output", "beacon-map.png", "Output file for --render")
	fs.StringVar(&opts.RenderFormat, "format", "raster", "Render format: raster, svg, or vector-png")
	fs.StringVar(&opts.GeoJSONFile, "geojson", "", "Also write a top-down GeoJSON export to this path")
	fs.IntVar(&opts.Threshold, "threshold", 0, "Minimum shared beacons to accept an overlap (default from config, else 12)")
	fs.IntVar(&opts.Workers, "workers", 0, "Concurrent alignments per pass (default from config, else NumCPU)")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Merge and render a top-down map, then exit")
	fs.BoolVar(&opts.Fetch, "fetch", false, "Fetch scanner reports from each configured apiUrl instead of --input")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode: merge scanner reports as they arrive")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve the latest report over HTTP")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "beaconmesh version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	case opts.RenderOnly:
		return app.RunRender()
	case opts.Input != "" || opts.Fetch:
		return app.RunMerge()
	}

	fmt.Fprintln(out, "Use --input=FILE to merge scanner reports")
	fmt.Fprintln(out, "Use --render to also output a top-down map")
	fmt.Fprintln(out, "Use --fetch to pull scanner reports from configured apiUrl endpoints")
	fmt.Fprintln(out, "Use --mqtt and/or --http to run as a service")
	return nil
}
