package collector

import (
	"fmt"
	"strings"
)

type unitDef struct {
	dimension string
	// factor converts one unit into the dimension's base unit.
	factor float64
}

var units = map[string]unitDef{
	"count": {"count", 1},

	"g":  {"mass", 1},
	"kg": {"mass", 1000},
	"mg": {"mass", 0.001},
	"lb": {"mass", 453.59237},
	"oz": {"mass", 28.349523125},

	"m":  {"length", 1},
	"cm": {"length", 0.01},
	"km": {"length", 1000},
	"ft": {"length", 0.3048},
	"mi": {"length", 1609.344},

	"s":   {"time", 1},
	"ms":  {"time", 0.001},
	"min": {"time", 60},
	"hr":  {"time", 3600},

	"kcal": {"energy", 4184},
	"kJ":   {"energy", 1000},
	"J":    {"energy", 1},

	"L":  {"volume", 1},
	"mL": {"volume", 0.001},

	"mmHg": {"pressure", 1},
	"kPa":  {"pressure", 7.50061683},

	"%":         {"percent", 1},
	"count/min": {"frequency", 1},
	"count/s":   {"frequency", 60},
	"mg/dL":     {"glucose", 1},
	"mmol/L":    {"glucose", 18.0182},

	"degC": {"temperature", 1},
	"degF": {"temperature", 1},
	"K":    {"temperature", 1},
}

// KnownUnit reports whether unit is a recognized unit label.
func KnownUnit(unit string) bool {
	_, ok := units[strings.TrimSpace(unit)]
	return ok
}

// ConvertValue converts value from one unit label to another of the same dimension.
func ConvertValue(value float64, from, to string) (float64, error) {
	if from == to {
		return value, nil
	}
	src, ok := units[from]
	if !ok {
		return 0, fmt.Errorf("unknown unit %q", from)
	}
	dst, ok := units[to]
	if !ok {
		return 0, fmt.Errorf("unknown unit %q", to)
	}
	if src.dimension != dst.dimension {
		return 0, fmt.Errorf("cannot convert %s to %s", from, to)
	}
	if src.dimension == "temperature" {
		return toTemperature(fromTemperature(value, from), to), nil
	}
	return value * src.factor / dst.factor, nil
}

// fromTemperature returns value in kelvin.
func fromTemperature(value float64, unit string) float64 {
	switch unit {
	case "degC":
		return value + 273.15
	case "degF":
		return (value-32)*5/9 + 273.15
	default:
		return value
	}
}

func toTemperature(kelvin float64, unit string) float64 {
	switch unit {
	case "degC":
		return kelvin - 273.15
	case "degF":
		return (kelvin-273.15)*9/5 + 32
	default:
		return kelvin
	}
}
