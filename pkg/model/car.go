package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CarConfig describes a vehicle as delivered by the car source.
type CarConfig struct {
	Name         string  `json:"name"`
	MaxSpeed     float64 `json:"maxSpeed"`     // units/s
	Acceleration float64 `json:"acceleration"` // units/s²
	Braking      float64 `json:"braking"`      // units/s²
	TurnRate     float64 `json:"turnRate"`     // rad/s at full steer
	Length       float64 `json:"length"`
	Width        float64 `json:"width"`
}

// ParseCarConfig decodes a JSON car description and validates it.
// Unknown fields are rejected.
func ParseCarConfig(data []byte) (*CarConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	cfg := &CarConfig{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: car: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *CarConfig) Validate() error {
	invalid := func(msg string) error {
		return fmt.Errorf("%w: car %q: %s", ErrInvalidConfig, c.Name, msg)
	}
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: car: name missing", ErrInvalidConfig)
	case !finite(c.MaxSpeed, c.Acceleration, c.Braking, c.TurnRate, c.Length, c.Width):
		return invalid("values must be finite")
	case c.MaxSpeed <= 0:
		return invalid("maxSpeed must be positive")
	case c.Acceleration <= 0:
		return invalid("acceleration must be positive")
	case c.Braking < 0 || c.TurnRate < 0:
		return invalid("braking and turnRate must not be negative")
	case c.Length < 0 || c.Width < 0:
		return invalid("dimensions must not be negative")
	}
	return nil
}
