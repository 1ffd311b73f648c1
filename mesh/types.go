package mesh

import "fmt"

// Point3D is an exact integer position (or translation vector) in 3-D space.
// It is a comparable value type and is used directly as a map key.
type Point3D struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Add returns p translated by d
func (p Point3D) Add(d Point3D) Point3D {
	return Point3D{X: p.X + d.X, Y: p.Y + d.Y, Z: p.Z + d.Z}
}

// Sub returns the vector from q to p
func (p Point3D) Sub(q Point3D) Point3D {
	return Point3D{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

// Manhattan returns |dx|+|dy|+|dz| between p and q
func (p Point3D) Manhattan(q Point3D) int {
	d := p.Sub(q)
	return abs(d.X) + abs(d.Y) + abs(d.Z)
}

// SquaredDistance returns the squared Euclidean distance between p and q.
func (p Point3D) SquaredDistance(q Point3D) int {
	d := p.Sub(q)
	return d.X*d.X + d.Y*d.Y + d.Z*d.Z
}

// Less orders points by X, then Y, then Z.
func (p Point3D) Less(q Point3D) bool {
	if p.X != q.X {
		return p.X < q.X
	}
	if p.Y != q.Y {
		return p.Y < q.Y
	}
	return p.Z < q.Z
}

func (p Point3D) String() string {
	return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ScannerReading is the beacon list reported by one scanner, in that
// scanner's own (unknown) frame. Readings are never mutated after parsing.
type ScannerReading struct {
	ID      int       `json:"id"`
	Beacons []Point3D `json:"beacons"`
}

// AlignmentResult is the outcome of a successful pairing of a reading against
// the reference frame.
type AlignmentResult struct {
	ScannerID   int       `json:"scannerId"`
	Rotation    int       `json:"rotation"`    // index into the rotation catalog
	Translation Point3D   `json:"translation"` // scanner origin in the reference frame
	Points      []Point3D `json:"-"`           // rotated+translated beacons
}

// ScannerConfig defines a scanner from the config file
type ScannerConfig struct {
	ID     int     `yaml:"id" json:"id"`
	Topic  string  `yaml:"topic,omitempty" json:"topic,omitempty"`
	Color  string  `yaml:"color,omitempty" json:"color,omitempty"`
	ApiURL *string `yaml:"apiUrl,omitempty" json:"apiUrl,omitempty"` // Optional API URL for fetching the scanner report
}

// MergeConfig holds the alignment parameters
type MergeConfig struct {
	Threshold int `yaml:"threshold,omitempty" json:"threshold,omitempty"` // Minimum coincident beacons (T), default 12
	Workers   int `yaml:"workers,omitempty" json:"workers,omitempty"`     // Alignment pool size per pass, 0 = NumCPU
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	Merge    MergeConfig     `yaml:"merge" json:"merge"`
	MQTT     MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Scanners []ScannerConfig `yaml:"scanners" json:"scanners"`
}

// GetScannerByID returns the scanner config for the given ID
func (c *Config) GetScannerByID(id int) *ScannerConfig {
	for i := range c.Scanners {
		if c.Scanners[i].ID == id {
			return &c.Scanners[i]
		}
	}
	return nil
}

// GetThreshold returns the configured overlap threshold or the default
func (c *Config) GetThreshold() int {
	if c == nil || c.Merge.Threshold <= 0 {
		return DefaultThreshold
	}
	return c.Merge.Threshold
}
