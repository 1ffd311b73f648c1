package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/kwv/beaconmesh/mesh"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *mesh.StateTracker) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string            `json:"status"`
			Timestamp time.Time         `json:"timestamp"`
			HasReport bool              `json:"hasReport"`
			Readings  int               `json:"readings"`
			LastSeen  map[int]time.Time `json:"lastSeen,omitempty"` // scanner ID -> latest reading
			LastError string            `json:"lastError,omitempty"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasReport: stateTracker.HasReport(),
			Readings:  stateTracker.ReadingCount(),
			LastSeen:  stateTracker.LastSeen(),
		}
		if err := stateTracker.LastError(); err != nil {
			status.LastError = err.Error()
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	mux.HandleFunc("/report.json", func(w http.ResponseWriter, r *http.Request) {
		report := stateTracker.Report()
		if report == nil {
			http.Error(w, "No report available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Printf("Error encoding report: %v", err)
		}
	})

	mux.HandleFunc("/beacons.geojson", func(w http.ResponseWriter, r *http.Request) {
		report := stateTracker.Report()
		if report == nil {
			http.Error(w, "No report available", http.StatusServiceUnavailable)
			return
		}
		data, err := json.Marshal(mesh.ReportToGeoJSON(report))
		if err != nil {
			http.Error(w, "Failed to encode GeoJSON", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})

	mux.HandleFunc("/map.svg", func(w http.ResponseWriter, r *http.Request) {
		serveRendered(w, stateTracker, "svg", "image/svg+xml")
	})

	mux.HandleFunc("/map.png", func(w http.ResponseWriter, r *http.Request) {
		serveRendered(w, stateTracker, "raster", "image/png")
	})

	// Default route serves HTML page embedding the SVG map
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>beaconmesh</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#fff}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style>
</head>
<body>
<img src="/map.svg" alt="Beacon Map">
</body>
</html>`)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// serveRendered renders the latest report into a buffer first so a render
// failure can still produce a 500.
func serveRendered(w http.ResponseWriter, stateTracker *mesh.StateTracker, format, contentType string) {
	report := stateTracker.Report()
	if report == nil {
		http.Error(w, "No report available", http.StatusServiceUnavailable)
		return
	}

	var buf bytes.Buffer
	if err := renderReport(&buf, report, format, stateTracker.Colors()); err != nil {
		log.Printf("[HTTP] render %s: %v", format, err)
		http.Error(w, "Failed to render map", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(buf.Bytes())
}
