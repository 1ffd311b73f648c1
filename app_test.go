package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kwv/beaconmesh/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleInput = "mesh/testdata/example.txt"

// newTestApp returns an App writing into a buffer, with the report cache and
// config pointed into a temp dir.
func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	app := NewApp(&out)
	dir := t.TempDir()
	app.ConfigFile = filepath.Join(dir, "config.yaml")
	app.ReportCache = filepath.Join(dir, "report.json")
	return app, &out
}

func TestNewApp(t *testing.T) {
	app := NewApp(os.Stdout)
	if app == nil {
		t.Fatal("NewApp() returned nil")
	}
	if app.StateTracker == nil {
		t.Error("NewApp() should initialize StateTracker")
	}
}

func TestApplyOptions(t *testing.T) {
	app := NewApp(os.Stdout)
	opts := AppOptions{
		Input:        "in.txt",
		ConfigFile:   "c.yaml",
		ReportCache:  "r.json",
		OutputFile:   "o.png",
		RenderFormat: "svg",
		GeoJSONFile:  "g.json",
		Threshold:    3,
		Workers:      5,
		HttpPort:     9999,
		Fetch:        true,
		MqttMode:     true,
		HttpMode:     true,
	}
	app.ApplyOptions(opts)

	assert.Equal(t, "in.txt", app.Input)
	assert.Equal(t, "c.yaml", app.ConfigFile)
	assert.Equal(t, "r.json", app.ReportCache)
	assert.Equal(t, "o.png", app.OutputFile)
	assert.Equal(t, "svg", app.RenderFormat)
	assert.Equal(t, "g.json", app.GeoJSONFile)
	assert.Equal(t, 3, app.Threshold)
	assert.Equal(t, 5, app.Workers)
	assert.Equal(t, 9999, app.HttpPort)
	assert.True(t, app.Fetch)
	assert.True(t, app.MqttMode)
	assert.True(t, app.HttpMode)
}

func TestRunMerge_Example(t *testing.T) {
	app, out := newTestApp(t)
	app.Input = exampleInput
	app.GeoJSONFile = filepath.Join(t.TempDir(), "beacons.geojson")

	require.NoError(t, app.RunMerge())

	assert.Contains(t, out.String(), "Beacons: 79")
	assert.Contains(t, out.String(), "Max scanner spread: 3621")
	assert.Contains(t, out.String(), "scanner 1: origin 68,-1246,-43")

	cached, err := mesh.LoadReport(app.ReportCache)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 79, cached.BeaconCount)
	assert.True(t, app.StateTracker.HasReport())

	data, err := os.ReadFile(app.GeoJSONFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"FeatureCollection"`)
}

func TestRunMerge_ConfigThreshold(t *testing.T) {
	app, _ := newTestApp(t)
	// overlaps in the example share exactly 12 beacons, so 13 alone would get stuck
	require.NoError(t, os.WriteFile(app.ConfigFile, []byte("merge:\n  threshold: 13\n  workers: 2\n"), 0644))
	app.Input = exampleInput
	app.Threshold = 12

	require.NoError(t, app.RunMerge())
	assert.Equal(t, 12, app.StateTracker.Report().Threshold, "flag overrides config")
	assert.Equal(t, 13, app.Config.Merge.Threshold)
}

func TestRunMerge_Stuck(t *testing.T) {
	app, out := newTestApp(t)
	input := filepath.Join(t.TempDir(), "stuck.txt")
	data, err := os.ReadFile(exampleInput)
	require.NoError(t, err)
	data = append(data, []byte("\n--- scanner 9 ---\n9999,9999,9999\n")...)
	require.NoError(t, os.WriteFile(input, data, 0644))
	app.Input = input

	err = app.RunMerge()
	require.Error(t, err)
	assert.True(t, errors.Is(err, mesh.ErrStuck))
	assert.Contains(t, err.Error(), "9")
	assert.NotContains(t, out.String(), "Beacons:", "no partial count on failure")

	cached, err := mesh.LoadReport(app.ReportCache)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestRunMerge_MissingInput(t *testing.T) {
	app, _ := newTestApp(t)
	app.Input = filepath.Join(t.TempDir(), "nope.txt")
	assert.Error(t, app.RunMerge())
}

func TestRunMerge_Fetch(t *testing.T) {
	readings, err := mesh.ParseScannerFile(exampleInput)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id int
		if _, err := fmt.Sscanf(r.URL.Path, "/scanner/%d", &id); err != nil || id >= len(readings) {
			http.NotFound(w, r)
			return
		}
		_ = mesh.FormatScanners(w, []mesh.ScannerReading{readings[id]})
	}))
	defer srv.Close()

	app, out := newTestApp(t)
	app.Fetch = true
	app.Config = &mesh.Config{}
	for i := range readings {
		url := fmt.Sprintf("%s/scanner/%d", srv.URL, i)
		app.Config.Scanners = append(app.Config.Scanners, mesh.ScannerConfig{ID: i, ApiURL: &url})
	}
	app.fetchOpts = []mesh.FetchOption{mesh.WithHTTPClient(srv.Client())}

	require.NoError(t, app.RunMerge())
	assert.Contains(t, out.String(), "Beacons: 79")
}

func TestRunMerge_FetchWithoutConfig(t *testing.T) {
	app, _ := newTestApp(t)
	app.Fetch = true
	err := app.RunMerge()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--fetch requires a config file")
}

func TestRunRender_Formats(t *testing.T) {
	tests := []struct {
		format string
		magic  []byte
	}{
		{"raster", []byte("\x89PNG")},
		{"svg", []byte("<svg")},
		{"vector-png", []byte("\x89PNG")},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			app, out := newTestApp(t)
			app.Input = exampleInput
			app.RenderFormat = tt.format
			app.OutputFile = filepath.Join(t.TempDir(), "map.out")

			require.NoError(t, app.RunRender())
			assert.Contains(t, out.String(), "Saved "+tt.format+" map")

			data, err := os.ReadFile(app.OutputFile)
			require.NoError(t, err)
			assert.True(t, bytes.Contains(data[:min(len(data), 256)], tt.magic), "output should contain %q", tt.magic)
		})
	}
}

func TestRunRender_FromCache(t *testing.T) {
	app, _ := newTestApp(t)
	app.Input = exampleInput
	require.NoError(t, app.RunMerge())

	renderApp, _ := newTestApp(t)
	renderApp.ReportCache = app.ReportCache
	renderApp.RenderFormat = "raster"
	renderApp.OutputFile = filepath.Join(t.TempDir(), "map.png")
	require.NoError(t, renderApp.RunRender())

	_, err := os.Stat(renderApp.OutputFile)
	assert.NoError(t, err)
}

func TestRunRender_NoCache(t *testing.T) {
	app, _ := newTestApp(t)
	app.OutputFile = filepath.Join(t.TempDir(), "map.png")
	err := app.RunRender()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no report cache")
}

func TestRenderReport_UnknownFormat(t *testing.T) {
	err := renderReport(&bytes.Buffer{}, &mesh.Report{}, "bmp", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown render format")
}

func TestColors(t *testing.T) {
	app, _ := newTestApp(t)
	assert.Empty(t, app.colors())

	app.Config = &mesh.Config{Scanners: []mesh.ScannerConfig{
		{ID: 0, Color: "#FF0000"},
		{ID: 1},
	}}
	assert.Equal(t, map[int]string{0: "#FF0000"}, app.colors())
}

func TestHandleReading_WaitsForAllScanners(t *testing.T) {
	readings, err := mesh.ParseScannerFile(exampleInput)
	require.NoError(t, err)

	mockClient := mesh.NewMockClient()
	mockClient.SetConnected(true)

	app, _ := newTestApp(t)
	app.Config = &mesh.Config{}
	for _, r := range readings {
		app.Config.Scanners = append(app.Config.Scanners, mesh.ScannerConfig{ID: r.ID, Topic: fmt.Sprintf("s/%d", r.ID)})
	}
	app.Publisher = mesh.NewPublisher(mockClient)
	app.Publisher.SetPrefix("test")

	// a decode error is logged and ignored
	app.handleReading(3, mesh.ScannerReading{}, mesh.ErrMalformedInput)
	assert.Equal(t, 0, app.StateTracker.ReadingCount())

	for i, r := range readings {
		app.handleReading(r.ID, r, nil)
		if i < len(readings)-1 {
			assert.False(t, app.StateTracker.HasReport(), "no merge before scanner %d arrives", readings[len(readings)-1].ID)
			assert.Empty(t, mockClient.Published())
		}
	}

	require.True(t, app.StateTracker.HasReport())
	assert.Equal(t, 79, app.StateTracker.Report().BeaconCount)

	msgs := mockClient.Published()
	require.Len(t, msgs, 1+len(readings))
	assert.Equal(t, "test/report", msgs[0].Topic)

	var summary mesh.ReportSummary
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &summary))
	assert.Equal(t, 3621, summary.MaxScannerSpread)
}

func TestRemerge_PublishesFailure(t *testing.T) {
	mockClient := mesh.NewMockClient()
	mockClient.SetConnected(true)

	app, _ := newTestApp(t)
	app.Config = &mesh.Config{}
	app.Publisher = mesh.NewPublisher(mockClient)
	app.Publisher.SetPrefix("test")

	app.StateTracker.UpdateReading(mesh.ScannerReading{ID: 0, Beacons: []mesh.Point3D{{1, 2, 3}}})
	app.StateTracker.UpdateReading(mesh.ScannerReading{ID: 1, Beacons: []mesh.Point3D{{4, 5, 6}}})
	app.remerge(t.Context())

	msgs := mockClient.Published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "test/error", msgs[0].Topic)
	assert.True(t, strings.Contains(string(msgs[0].Payload), `"unresolved":[1]`))
	assert.ErrorIs(t, app.StateTracker.LastError(), mesh.ErrStuck)
}
