package params

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Metadata describes a parameter beyond what the wire carries.
type Metadata struct {
	Description string   `toml:"description" json:"description,omitempty"`
	Units       string   `toml:"units" json:"units,omitempty"`
	Min         *float64 `toml:"min" json:"min,omitempty"`
	Max         *float64 `toml:"max" json:"max,omitempty"`
}

// LoadMetadata reads a TOML file keyed by parameter name:
//
//	[RC1_MIN]
//	description = "RC min PWM"
//	min = 800.0
//	max = 2200.0
func LoadMetadata(path string) (map[string]Metadata, error) {
	out := map[string]Metadata{}
	if _, err := toml.DecodeFile(path, &out); err != nil {
		return nil, fmt.Errorf("load parameter metadata: %w", err)
	}
	for name, m := range out {
		if m.Min != nil && m.Max != nil && *m.Min > *m.Max {
			return nil, fmt.Errorf("load parameter metadata: %s min %v > max %v", name, *m.Min, *m.Max)
		}
	}
	return out, nil
}
