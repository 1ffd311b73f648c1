package mesh

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseScannerFile reads and parses a scanner report file
func ParseScannerFile(path string) ([]ScannerReading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	defer f.Close()
	return ParseScanners(f)
}

// ParseScanners parses blocks of the form
//
//	--- scanner 0 ---
//	404,-588,-901
//	528,-643,409
//
// Blocks are separated by blank lines and returned in input order.
func ParseScanners(r io.Reader) ([]ScannerReading, error) {
	var (
		readings []ScannerReading
		current  *ScannerReading
		lineNo   int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			current = nil
		case strings.HasPrefix(line, "---"):
			id, err := parseHeader(line)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedInput, lineNo, err)
			}
			readings = append(readings, ScannerReading{ID: id})
			current = &readings[len(readings)-1]
		default:
			if current == nil {
				return nil, fmt.Errorf("%w: line %d: coordinates outside a scanner block", ErrMalformedInput, lineNo)
			}
			p, err := ParsePoint(line)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedInput, lineNo, err)
			}
			current.Beacons = append(current.Beacons, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading scanner input: %w", err)
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("%w: no scanner blocks found", ErrMalformedInput)
	}
	return readings, nil
}

// parseHeader extracts N from "--- scanner N ---"
func parseHeader(line string) (int, error) {
	fields := strings.Fields(strings.Trim(line, "- "))
	if len(fields) != 2 || fields[0] != "scanner" {
		return 0, fmt.Errorf("bad header %q", line)
	}
	id, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("bad scanner id %q", fields[1])
	}
	return id, nil
}

// ParsePoint parses "x,y,z" with optionally signed integers.
func ParsePoint(s string) (Point3D, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Point3D{}, fmt.Errorf("want 3 coordinates, got %d in %q", len(parts), s)
	}
	var v [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return Point3D{}, fmt.Errorf("bad coordinate %q", part)
		}
		v[i] = n
	}
	return Point3D{X: v[0], Y: v[1], Z: v[2]}, nil
}

// ParseScannerPayload decodes a single scanner's report as received over MQTT
// or HTTP: either a JSON array of [x,y,z] triples or one text block (header
// optional). The id argument is used when the payload carries none.
func ParseScannerPayload(id int, data []byte) (ScannerReading, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ScannerReading{}, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}

	if data[0] == '[' {
		var triples [][]int
		if err := json.Unmarshal(data, &triples); err != nil {
			return ScannerReading{}, fmt.Errorf("%w: parsing JSON payload: %v", ErrMalformedInput, err)
		}
		reading := ScannerReading{ID: id, Beacons: make([]Point3D, len(triples))}
		for i, t := range triples {
			if len(t) != 3 {
				return ScannerReading{}, fmt.Errorf("%w: JSON point %d has %d coordinates, want 3", ErrMalformedInput, i, len(t))
			}
			reading.Beacons[i] = Point3D{X: t[0], Y: t[1], Z: t[2]}
		}
		return reading, nil
	}

	if !bytes.HasPrefix(data, []byte("---")) {
		data = append([]byte(fmt.Sprintf("--- scanner %d ---\n", id)), data...)
	}
	readings, err := ParseScanners(bytes.NewReader(data))
	if err != nil {
		return ScannerReading{}, err
	}
	if len(readings) != 1 {
		return ScannerReading{}, fmt.Errorf("%w: payload holds %d scanner blocks, want 1", ErrMalformedInput, len(readings))
	}
	return readings[0], nil
}

// FormatScanners writes readings back in the text block format.
func FormatScanners(w io.Writer, readings []ScannerReading) error {
	bw := bufio.NewWriter(w)
	for i, r := range readings {
		if i > 0 {
			fmt.Fprintln(bw)
		}
		fmt.Fprintf(bw, "--- scanner %d ---\n", r.ID)
		for _, p := range r.Beacons {
			fmt.Fprintln(bw, p.String())
		}
	}
	return bw.Flush()
}
