// Package moisture interprets soil moisture readings reported by the
// irrigation controller.
package moisture

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// MaxRaw is the full-scale value of the controller's 12-bit ADC.
const MaxRaw = 4095

// Thresholds in percent.
const (
	DryBelow       = 40
	SaturatedAbove = 80
)

// Level labels a moisture percentage.
type Level string

const (
	LevelTooDry        Level = "Too dry"
	LevelHealthy       Level = "Healthy"
	LevelOversaturated Level = "Oversaturated"
)

// Percent converts a raw reading to a percentage clamped to 0..100.
func Percent(raw float64) int {
	pct := math.Round(raw / MaxRaw * 100)
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return int(pct)
}

// Classify labels a percentage.
func Classify(pct int) Level {
	switch {
	case pct < DryBelow:
		return LevelTooDry
	case pct <= SaturatedAbove:
		return LevelHealthy
	default:
		return LevelOversaturated
	}
}

// Reading is a controller status interpreted for display.
type Reading struct {
	Raw        float64 `json:"raw"`
	Percent    int     `json:"percent"`
	Level      Level   `json:"level"`
	IsWatering bool    `json:"is_watering"`
	// Blocked reports that watering is refused because the soil is
	// oversaturated.
	Blocked bool `json:"blocked"`
}

// deviceStatus is the document served by the controller at /status. Both
// fields arrive as numbers or numeric strings depending on firmware.
type deviceStatus struct {
	Moisture   json.RawMessage `json:"moisture"`
	IsWatering json.RawMessage `json:"isWatering"`
}

// Parse interprets a controller status document.
func Parse(body []byte) (Reading, error) {
	var st deviceStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return Reading{}, fmt.Errorf("invalid status document: %w", err)
	}

	raw, err := number(st.Moisture)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid moisture value: %w", err)
	}

	// a missing or unreadable flag means not watering
	watering, _ := number(st.IsWatering)

	pct := Percent(raw)
	level := Classify(pct)
	return Reading{
		Raw:        raw,
		Percent:    pct,
		Level:      level,
		IsWatering: watering == 1,
		Blocked:    level == LevelOversaturated,
	}, nil
}

func number(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("missing")
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %q", s)
	}
	return f, nil
}
