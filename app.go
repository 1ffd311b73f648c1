package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kwv/beaconmesh/mesh"
)

// App encapsulates the application state and dependencies
type App struct {
	Out          io.Writer
	Config       *mesh.Config
	StateTracker *mesh.StateTracker
	MQTTClient   *mesh.MQTTClient
	Publisher    *mesh.Publisher

	// CLI Flags (effectively dependencies)
	Input        string
	ConfigFile   string
	ReportCache  string
	OutputFile   string
	RenderFormat string
	GeoJSONFile  string
	Threshold    int
	Workers      int
	HttpPort     int
	Fetch        bool
	MqttMode     bool
	HttpMode     bool

	// fetchOpts is overridden in tests
	fetchOpts []mesh.FetchOption

	// serializes service-mode remerges
	mergeMu sync.Mutex
}

// NewApp creates a new App instance
func NewApp(out io.Writer) *App {
	return &App{
		Out:          out,
		StateTracker: mesh.NewStateTracker(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.Input = opts.Input
	a.ConfigFile = opts.ConfigFile
	a.ReportCache = opts.ReportCache
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.GeoJSONFile = opts.GeoJSONFile
	a.Threshold = opts.Threshold
	a.Workers = opts.Workers
	a.HttpPort = opts.HttpPort
	a.Fetch = opts.Fetch
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig loads the config file. A missing file is only an error when
// required is set.
func (a *App) loadConfig(required bool) error {
	if a.Config != nil {
		return nil
	}
	if a.ConfigFile == "" {
		if required {
			return fmt.Errorf("config file required")
		}
		return nil
	}
	if _, err := os.Stat(a.ConfigFile); os.IsNotExist(err) && !required {
		return nil
	}
	config, err := mesh.LoadConfig(a.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", a.ConfigFile, err)
	}
	a.Config = config
	log.Printf("Loaded config from %s", a.ConfigFile)
	return nil
}

// mergeOptions layers CLI flags over the config file's merge section
func (a *App) mergeOptions() []mesh.MergeOption {
	opts := a.Config.MergeOptions()
	if a.Threshold > 0 {
		opts = append(opts, mesh.WithThreshold(a.Threshold))
	}
	if a.Workers > 0 {
		opts = append(opts, mesh.WithWorkers(a.Workers))
	}
	return opts
}

// loadReadings reads scanner reports from --input or, with --fetch, from each
// configured apiUrl.
func (a *App) loadReadings(ctx context.Context) ([]mesh.ScannerReading, error) {
	if a.Fetch {
		if a.Config == nil {
			return nil, fmt.Errorf("--fetch requires a config file with scanner apiUrl entries")
		}
		readings, err := mesh.FetchConfiguredReadings(ctx, a.Config, a.fetchOpts...)
		if err != nil {
			return nil, err
		}
		if len(readings) == 0 {
			return nil, fmt.Errorf("no scanners with apiUrl configured")
		}
		return readings, nil
	}
	if a.Input == "" {
		return nil, fmt.Errorf("no input: use --input=FILE or --fetch")
	}
	return mesh.ParseScannerFile(a.Input)
}

// merge loads the readings, runs the engine to convergence and persists the
// report cache.
func (a *App) merge(ctx context.Context) (*mesh.Report, error) {
	if err := a.loadConfig(false); err != nil {
		return nil, err
	}

	readings, err := a.loadReadings(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("[MERGE] loaded %d scanner readings", len(readings))

	report, err := mesh.MergeReadings(ctx, readings, a.mergeOptions()...)
	if err != nil {
		return nil, fmt.Errorf("merge failed: %w", err)
	}
	a.StateTracker.SetReport(report)

	if a.ReportCache != "" {
		if err := mesh.SaveReport(a.ReportCache, report); err != nil {
			log.Printf("Warning: failed to save report cache %s: %v", a.ReportCache, err)
		} else {
			log.Printf("Saved report to %s", a.ReportCache)
		}
	}
	return report, nil
}

// RunMerge merges the scanner reports and prints the two answers
func (a *App) RunMerge() error {
	report, err := a.merge(context.Background())
	if err != nil {
		return err
	}
	a.printReport(report)
	return a.writeGeoJSON(report)
}

func (a *App) printReport(r *mesh.Report) {
	fmt.Fprintf(a.Out, "Scanners: %d (anchor %d, %d passes, threshold %d)\n",
		len(r.Scanners), r.AnchorID, r.Passes, r.Threshold)
	for _, s := range r.Scanners {
		fmt.Fprintf(a.Out, "  scanner %d: origin %s rotation %d\n", s.ID, s.Origin, s.Rotation)
	}
	fmt.Fprintf(a.Out, "Beacons: %d\n", r.BeaconCount)
	fmt.Fprintf(a.Out, "Max scanner spread: %d\n", r.MaxScannerSpread)
}

func (a *App) writeGeoJSON(r *mesh.Report) error {
	if a.GeoJSONFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(mesh.ReportToGeoJSON(r), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling GeoJSON: %w", err)
	}
	if err := os.WriteFile(a.GeoJSONFile, data, 0644); err != nil {
		return fmt.Errorf("writing GeoJSON: %w", err)
	}
	fmt.Fprintf(a.Out, "Saved GeoJSON to %s\n", a.GeoJSONFile)
	return nil
}

// RunRender merges (or, without input, loads the cached report) and renders
// a top-down map to OutputFile.
func (a *App) RunRender() error {
	var report *mesh.Report
	if a.Input != "" || a.Fetch {
		r, err := a.merge(context.Background())
		if err != nil {
			return err
		}
		report = r
	} else {
		if err := a.loadConfig(false); err != nil {
			return err
		}
		r, err := mesh.LoadReport(a.ReportCache)
		if err != nil {
			return fmt.Errorf("failed to load report cache: %w", err)
		}
		if r == nil {
			return fmt.Errorf("no report cache at %s; use --input to merge first", a.ReportCache)
		}
		report = r
	}
	a.printReport(report)

	f, err := os.Create(a.OutputFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if err := renderReport(f, report, a.RenderFormat, a.colors()); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Saved %s map to %s\n", a.RenderFormat, a.OutputFile)
	return a.writeGeoJSON(report)
}

// renderReport writes report in one of the supported formats
func renderReport(w io.Writer, report *mesh.Report, format string, colors map[int]string) error {
	switch strings.ToLower(format) {
	case "", "raster", "png":
		renderer := mesh.NewCompositeRenderer(report, colors)
		if !renderer.HasDrawableContent() {
			return fmt.Errorf("report has nothing to draw")
		}
		if err := renderer.WritePNG(w); err != nil {
			return fmt.Errorf("encoding PNG: %w", err)
		}
	case "svg":
		if err := mesh.NewVectorRenderer(report, colors).RenderToSVG(w); err != nil {
			return fmt.Errorf("rendering SVG: %w", err)
		}
	case "vector-png":
		if err := mesh.NewVectorRenderer(report, colors).RenderToPNG(w); err != nil {
			return fmt.Errorf("rendering vector PNG: %w", err)
		}
	default:
		return fmt.Errorf("unknown render format %q (use raster, svg, or vector-png)", format)
	}
	return nil
}

func (a *App) colors() map[int]string {
	colors := make(map[int]string)
	if a.Config == nil {
		return colors
	}
	for _, sc := range a.Config.Scanners {
		if sc.Color != "" {
			colors[sc.ID] = sc.Color
		}
	}
	return colors
}

// handleReading stores an incoming reading and, once every configured scanner
// has reported, re-runs the merge and publishes the outcome.
func (a *App) handleReading(scannerID int, reading mesh.ScannerReading, err error) {
	if err != nil {
		log.Printf("[MQTT] error receiving report for scanner %d: %v", scannerID, err)
		return
	}
	a.StateTracker.UpdateReading(reading)
	log.Printf("[MQTT] scanner %d: %d beacons", scannerID, len(reading.Beacons))

	ids := a.Config.ScannerIDs()
	if !a.StateTracker.HasReadings(ids) {
		log.Printf("[MERGE] waiting for readings: %d/%d scanners", a.StateTracker.ReadingCount(), len(ids))
		return
	}
	a.remerge(context.Background())
}

// remerge runs one merge over the tracked readings and publishes the result
func (a *App) remerge(ctx context.Context) {
	a.mergeMu.Lock()
	defer a.mergeMu.Unlock()

	report, err := a.StateTracker.Remerge(ctx, a.mergeOptions()...)
	if err != nil {
		log.Printf("[MERGE] merge failed: %v", err)
		if a.Publisher != nil {
			if pubErr := a.Publisher.PublishFailure(err); pubErr != nil {
				log.Printf("[MQTT] error publishing failure: %v", pubErr)
			}
		}
		return
	}
	log.Printf("[MERGE] run %s: %d beacons, spread %d", report.RunID, report.BeaconCount, report.MaxScannerSpread)
	if a.Publisher != nil {
		if err := a.Publisher.PublishReport(report); err != nil {
			log.Printf("[MQTT] error publishing report: %v", err)
		}
	}
}

// RunService starts the combined MQTT and/or HTTP service
func (a *App) RunService() error {
	fmt.Fprintln(a.Out, "Starting beaconmesh service...")

	if err := a.loadConfig(a.MqttMode); err != nil {
		return err
	}

	a.StateTracker = mesh.NewStateTrackerWithCache(a.ReportCache)
	if a.StateTracker.HasReport() {
		log.Printf("Loaded cached report from %s", a.ReportCache)
	}
	if a.Config != nil {
		ids := a.Config.ScannerIDs()
		if len(ids) > 0 {
			a.StateTracker.SetAnchor(ids[0])
		}
		for _, sc := range a.Config.Scanners {
			if sc.Color != "" {
				a.StateTracker.SetColor(sc.ID, sc.Color)
			}
		}
	}

	// Seed from --input / --fetch so HTTP has something to serve immediately
	if a.Input != "" || a.Fetch {
		readings, err := a.loadReadings(context.Background())
		if err != nil {
			return err
		}
		for _, r := range readings {
			a.StateTracker.UpdateReading(r)
		}
		if len(readings) > 0 {
			a.StateTracker.SetAnchor(readings[0].ID)
		}
		a.remerge(context.Background())
	}

	if a.MqttMode {
		mqttClient, err := mesh.InitMQTT(a.Config, a.handleReading)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured in %s", filepath.Base(a.ConfigFile))
		}
		a.MQTTClient = mqttClient

		a.Publisher = mesh.NewPublisher(mqttClient.GetClient())
		if a.Config.MQTT.PublishPrefix != "" && os.Getenv("MQTT_PUBLISH_PREFIX") == "" {
			a.Publisher.SetPrefix(a.Config.MQTT.PublishPrefix)
		}
		fmt.Fprintln(a.Out, "MQTT report publisher initialized")
	}

	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.StateTracker),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	a.printServiceInfo()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("[HTTP] shutdown error: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MqttMode {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintln(a.Out, "  Subscribed topics:")
		for _, sc := range a.Config.Scanners {
			fmt.Fprintf(a.Out, "    - %s (scanner %d)\n", sc.Topic, sc.ID)
		}
		prefix := "beaconmesh"
		if a.Publisher != nil {
			prefix = a.Publisher.Prefix()
		}
		fmt.Fprintf(a.Out, "  Publishing report to: %s/report\n", prefix)
		fmt.Fprintf(a.Out, "  Scanner placements: %s/scanner/{id}\n", prefix)
	}

	if a.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET /health          - Health check")
		fmt.Fprintln(a.Out, "  GET /report.json     - Latest merge report")
		fmt.Fprintln(a.Out, "  GET /beacons.geojson - Top-down GeoJSON export")
		fmt.Fprintln(a.Out, "  GET /map.svg         - Vector map")
		fmt.Fprintln(a.Out, "  GET /map.png         - Raster map")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}
