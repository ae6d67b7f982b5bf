package onboard

import (
	"fmt"
	"io/ioutil"

	oerrors "github.com/CodedInternet/gocopis/onboard/errors"
	"github.com/CodedInternet/gocopis/onboard/hardware"
	"github.com/Masterminds/semver"
	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v2"
)

const (
	CONFIG_SCHEMA       = "~1.0.0"
	MaxCamerasInChamber = 3
)

type MachineConfig struct {
	Version  string          `yaml:"version"`
	Machine  *MachineSection `yaml:"machine"`
	Serial   SerialSection   `yaml:"serial"`
	Chambers []ChamberConfig `yaml:"chambers"`
	Devices  []DeviceConfig  `yaml:"devices"`
	Objects  []ProxyObject   `yaml:"objects"`
}

type MachineSection struct {
	Name   string `yaml:"name"`
	Bounds AABB   `yaml:"bounds"`
}

type SerialSection struct {
	Port string `yaml:"port,omitempty"`
	Baud int    `yaml:"baud"`
}

type ChamberConfig struct {
	Name   string `yaml:"name"`
	Bounds AABB   `yaml:"bounds"`
}

type DeviceConfig struct {
	ID      int       `yaml:"id"`
	Name    string    `yaml:"name"`
	Type    string    `yaml:"type"`
	Chamber int       `yaml:"chamber"`
	Home    []float64 `yaml:"home,flow"` // x, y, z, pan, tilt
}

type YAMLBox struct {
	LowerCoords []float64 `yaml:"lower,flow"`
	UpperCoords []float64 `yaml:"upper,flow"`
}

func (b AABB) MarshalYAML() (interface{}, error) {
	return &YAMLBox{
		[]float64{b.Lower.X(), b.Lower.Y(), b.Lower.Z()},
		[]float64{b.Upper.X(), b.Upper.Y(), b.Upper.Z()},
	}, nil
}

func (b *AABB) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var yb YAMLBox
	if err := unmarshal(&yb); err != nil {
		return err
	}
	if len(yb.LowerCoords) != 3 || len(yb.UpperCoords) != 3 {
		return fmt.Errorf("bounds need 3 coordinates each, got %d and %d", len(yb.LowerCoords), len(yb.UpperCoords))
	}
	b.Lower = mgl64.Vec3{yb.LowerCoords[0], yb.LowerCoords[1], yb.LowerCoords[2]}
	b.Upper = mgl64.Vec3{yb.UpperCoords[0], yb.UpperCoords[1], yb.UpperCoords[2]}
	return nil
}

func (dc DeviceConfig) HomePosition() (p hardware.Point5) {
	copy(p[:], dc.Home)
	return
}

func LoadConfig(filename string) (*MachineConfig, error) {
	raw, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(raw)
}

func ParseConfig(raw []byte) (*MachineConfig, error) {
	config := new(MachineConfig)
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, err
	}
	if config.Serial.Baud == 0 {
		config.Serial.Baud = 115200
	}
	return config, nil
}

func (c *MachineConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// BuildDevices turns the configured cameras into registry entries, bounded by
// their chamber.
func (c *MachineConfig) BuildDevices() []Device {
	devices := make([]Device, 0, len(c.Devices))
	for _, dc := range c.Devices {
		d := Device{
			ID:       dc.ID,
			Name:     dc.Name,
			Type:     dc.Type,
			Chamber:  dc.Chamber,
			Position: dc.HomePosition(),
		}
		if dc.Chamber >= 0 && dc.Chamber < len(c.Chambers) {
			d.Bounds = c.Chambers[dc.Chamber].Bounds
		} else if c.Machine != nil {
			d.Bounds = c.Machine.Bounds
		}
		devices = append(devices, d)
	}
	return devices
}

// CheckConfig validates the machine configuration before the core starts. A
// missing machine section is always an error. Other problems are returned as
// warnings when dev is set, and as an error otherwise.
func CheckConfig(c *MachineConfig, dev bool) (warnings []error, err error) {
	if c == nil || c.Machine == nil {
		return nil, oerrors.ConfigError{Field: "machine", Reason: "the machine is not configured", Fatal: true}
	}

	var problems []error
	add := func(field, format string, args ...interface{}) {
		problems = append(problems, oerrors.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if v, verr := semver.NewVersion(c.Version); verr != nil {
		add("version", "%q is not a version: %v", c.Version, verr)
	} else {
		constraint, cerr := semver.NewConstraint(CONFIG_SCHEMA)
		if cerr != nil {
			return nil, cerr
		}
		if !constraint.Check(v) {
			add("version", "got %s, require %s", c.Version, CONFIG_SCHEMA)
		}
	}

	seen := make(map[int]bool)
	perChamber := make(map[int]int)
	for _, dc := range c.Devices {
		field := fmt.Sprintf("devices[%d]", dc.ID)
		if seen[dc.ID] {
			add(field, "duplicate device id")
		}
		seen[dc.ID] = true

		if len(dc.Home) != 0 && len(dc.Home) != 5 {
			add(field, "home needs 5 values, got %d", len(dc.Home))
		}
		if dc.Chamber < 0 || dc.Chamber >= len(c.Chambers) {
			add(field, "no such chamber %d", dc.Chamber)
			continue
		}
		perChamber[dc.Chamber]++
		if perChamber[dc.Chamber] == MaxCamerasInChamber+1 {
			add(fmt.Sprintf("chambers[%d]", dc.Chamber), "more than %d cameras", MaxCamerasInChamber)
		}

		home := dc.HomePosition()
		if !c.Chambers[dc.Chamber].Bounds.Contains(mgl64.Vec3{home.X(), home.Y(), home.Z()}, 0) {
			add(field, "home position outside chamber %q", c.Chambers[dc.Chamber].Name)
		}
	}

	if len(problems) == 0 {
		return nil, nil
	}
	if dev {
		return problems, nil
	}
	return nil, problems[0]
}

// DefaultConfig describes a two chamber rig with one camera in each.
func DefaultConfig() *MachineConfig {
	return &MachineConfig{
		Version: "1.0.0",
		Machine: &MachineSection{
			Name:   "copis",
			Bounds: AABB{mgl64.Vec3{-400, -400, -300}, mgl64.Vec3{400, 400, 300}},
		},
		Serial: SerialSection{Baud: 115200},
		Chambers: []ChamberConfig{
			{Name: "upper", Bounds: AABB{mgl64.Vec3{-400, -400, 0}, mgl64.Vec3{400, 400, 300}}},
			{Name: "lower", Bounds: AABB{mgl64.Vec3{-400, -400, -300}, mgl64.Vec3{400, 400, 0}}},
		},
		Devices: []DeviceConfig{
			{ID: 0, Name: "Camera A", Type: "EDSDK", Chamber: 0, Home: []float64{0, 0, 150, 0, 0}},
			{ID: 1, Name: "Camera B", Type: "EDSDK", Chamber: 1, Home: []float64{0, 0, -150, 0, 0}},
		},
		Objects: []ProxyObject{
			{Name: "subject", Bounds: AABB{mgl64.Vec3{-20, -20, -20}, mgl64.Vec3{20, 20, 20}}},
		},
	}
}
