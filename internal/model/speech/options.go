package speech

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
)

// Options holds a persona's synthesis parameters (vsayOptions). Keys
// without a matching control or field are carried through untouched so
// settings written by newer clients survive a round trip.
type Options map[string]any

// Well-known option keys.
const (
	KeySpeed      = "speed"
	KeyPitch      = "pitch"
	KeyIntonation = "intonation"
	KeyTempo      = "tempo"

	KeyHost    = "host"
	KeyPort    = "port"
	KeySpeaker = "speaker"
	KeyStyle   = "style"
)

// Control declares the range of a numeric slider.
type Control struct {
	Key     string
	Label   string
	Min     float64
	Max     float64
	Step    float64
	Default float64
}

// Clamp bounds v to the control's declared range.
func (c Control) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return c.Default
	}
	return math.Min(c.Max, math.Max(c.Min, v))
}

// Controls lists the numeric sliders in display order.
var Controls = []Control{
	{Key: KeySpeed, Label: "Speed", Min: 0.5, Max: 4.0, Step: 0.05, Default: 1.0},
	{Key: KeyPitch, Label: "Pitch", Min: -15, Max: 15, Step: 0.5, Default: 0},
	{Key: KeyIntonation, Label: "Intonation", Min: 0, Max: 2.0, Step: 0.05, Default: 1.0},
	{Key: KeyTempo, Label: "Tempo", Min: 0, Max: 2.0, Step: 0.05, Default: 1.0},
}

// Fields lists the free-text connection fields in display order.
var Fields = []string{KeyHost, KeyPort, KeySpeaker, KeyStyle}

// LookupControl returns the control registered for key.
func LookupControl(key string) (Control, bool) {
	for _, c := range Controls {
		if c.Key == key {
			return c, true
		}
	}
	return Control{}, false
}

// IsField reports whether key is a connection field.
func IsField(key string) bool {
	for _, f := range Fields {
		if f == key {
			return true
		}
	}
	return false
}

// DefaultOptions returns the slider defaults with empty connection fields.
func DefaultOptions() Options {
	opts := make(Options, len(Controls)+len(Fields))
	for _, c := range Controls {
		opts[c.Key] = c.Default
	}
	for _, f := range Fields {
		opts[f] = ""
	}
	return opts
}

// Clone returns a shallow copy; nil stays nil-safe.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	maps.Copy(out, o)
	return out
}

// Merge returns a copy of o with every key of patch applied on top.
func (o Options) Merge(patch Options) Options {
	out := o.Clone()
	maps.Copy(out, patch)
	return out
}

// Float reads a numeric value, accepting the shapes JSON decoding and user
// input produce.
func (o Options) Float(key string) (float64, bool) {
	v, ok := o[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// String reads a value as text. Numbers are formatted without trailing zeros.
func (o Options) String(key string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Clamped returns a copy where every numeric control is coerced to float64 and
// bounded to its range. Unparseable control values fall back to the default.
// Unknown keys are copied as-is.
func (o Options) Clamped() Options {
	out := o.Clone()
	for _, c := range Controls {
		v, ok := out[c.Key]
		if !ok {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			f = c.Default
		}
		out[c.Key] = c.Clamp(f)
	}
	return out
}

// Normalize converts a single edited value to the representation sent over
// the wire: numeric controls become clamped float64, fields become trimmed
// strings, other keys pass through.
func Normalize(key string, value any) (any, error) {
	if c, ok := LookupControl(key); ok {
		f, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("invalid value %v for %s", value, key)
		}
		return c.Clamp(f), nil
	}
	if IsField(key) {
		switch t := value.(type) {
		case string:
			return strings.TrimSpace(t), nil
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		default:
			return fmt.Sprint(t), nil
		}
	}
	return value, nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
