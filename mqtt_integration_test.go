package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// buildBinary compiles the service into tmpDir. Integration tests only.
func buildBinary(t *testing.T, tmpDir string) string {
	t.Helper()
	binaryPath := filepath.Join(tmpDir, "beaconmesh-test")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, output)
	}
	return binaryPath
}

// TestMQTTServiceStartupShutdown tests the full MQTT service lifecycle
func TestMQTTServiceStartupShutdown(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	tmpDir := t.TempDir()
	configYAML := `mqtt:
  broker: "mqtt://localhost:1883"
  publishPrefix: "beaconmesh-test"
  clientId: "beaconmesh-test"

scanners:
  - id: 0
    topic: "test/scanner0/report"
    color: "#FF0000"
  - id: 1
    topic: "test/scanner1/report"
    color: "#00FF00"
`
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}

	binaryPath := buildBinary(t, tmpDir)

	tests := []struct {
		name           string
		args           []string
		expectInOutput []string
		expectFailure  bool
		timeout        time.Duration
	}{
		{
			name: "successful startup with config",
			args: []string{"--mqtt", "--config=" + configPath, "--report-cache=" + filepath.Join(tmpDir, "r.json")},
			expectInOutput: []string{
				"Starting beaconmesh service",
				"Loaded config from",
				"Service Running",
				"Subscribed topics:",
				"test/scanner0/report",
				"test/scanner1/report",
				"Press Ctrl+C to stop",
			},
			timeout: 5 * time.Second,
		},
		{
			name: "missing config file",
			args: []string{"--mqtt", "--config=nonexistent.yaml"},
			expectInOutput: []string{
				"Starting beaconmesh service",
				"error:",
			},
			expectFailure: true,
			timeout:       2 * time.Second,
		},
		{
			name: "stuck merge exits non-zero",
			args: []string{"--input=" + writeStuckInput(t, tmpDir)},
			expectInOutput: []string{
				"merge stuck",
			},
			expectFailure: true,
			timeout:       5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, binaryPath, tt.args...)
			output, err := cmd.CombinedOutput()
			outputStr := string(output)

			for _, expected := range tt.expectInOutput {
				if !strings.Contains(outputStr, expected) {
					t.Errorf("Expected output to contain '%s', but it didn't.\nFull output:\n%s",
						expected, outputStr)
				}
			}

			if tt.expectFailure && err == nil {
				t.Error("Expected command to fail, but it succeeded")
			}
		})
	}
}

// TestHTTPServiceSignalHandling tests SIGINT handling
func TestHTTPServiceSignalHandling(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	tmpDir := t.TempDir()
	binaryPath := buildBinary(t, tmpDir)

	cmd := exec.Command(binaryPath, "--http", "--http-port=18089",
		"--input="+exampleInput, "--report-cache="+filepath.Join(tmpDir, "r.json"))
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}

	time.Sleep(2 * time.Second)

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		t.Logf("Failed to send SIGINT (process may have already exited): %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Service exited with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Service did not shut down within timeout")
		if err := cmd.Process.Kill(); err != nil {
			t.Logf("Failed to kill process: %v", err)
		}
	}
}

// writeStuckInput writes the example plus a scanner that shares nothing.
func writeStuckInput(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(exampleInput)
	if err != nil {
		t.Fatalf("Failed to read example: %v", err)
	}
	data = append(data, []byte("\n--- scanner 9 ---\n9999,9999,9999\n")...)
	path := filepath.Join(dir, "stuck.txt")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write stuck input: %v", err)
	}
	return path
}
