package eval

import (
	"math"
	"strconv"

	"github.com/c360/topicviews/topic"
)

// convertValue converts a derived value to the view's target type. An empty
// target or a target matching the value's type is a no-op. A failed
// conversion drops the mapping.
//
// Conversions to TIME_SERIES keep the source type as the event type; every
// source update appends an event. Conversions from a time series follow the
// rules of its event value type.
func convertValue(v topic.Value, target topic.Type) (topic.Value, bool) {
	if target == "" || target == v.Type {
		return v, true
	}

	if target == topic.TypeTimeSeries {
		return topic.Value{
			Type:      topic.TypeTimeSeries,
			EventType: v.EffectiveType(),
			Data:      v.Data,
		}, true
	}

	source := v.EffectiveType()
	if source == topic.TypeBinary {
		// binary converts to time series only, handled above
		return topic.Value{}, false
	}

	data := v.Data
	if source == topic.TypeJSON && target != topic.TypeJSON {
		// only string and integer JSON scalars can be read out
		s, ok := jsonScalarText(data)
		if !ok {
			return topic.Value{}, false
		}
		return convertFromString(s, target)
	}

	switch target {
	case topic.TypeJSON:
		// a primitive becomes a JSON topic holding just the scalar
		return topic.Value{Type: topic.TypeJSON, Data: data}, true

	case topic.TypeString:
		switch d := data.(type) {
		case string:
			return topic.Value{Type: topic.TypeString, Data: d}, true
		case int64:
			return topic.Value{Type: topic.TypeString, Data: strconv.FormatInt(d, 10)}, true
		case float64:
			return topic.Value{Type: topic.TypeString, Data: strconv.FormatFloat(d, 'f', -1, 64)}, true
		}
		return topic.Value{}, false

	case topic.TypeInt64:
		switch d := data.(type) {
		case int64:
			return topic.Value{Type: topic.TypeInt64, Data: d}, true
		case float64:
			// round to the nearest integer: 12.51 becomes 13
			return topic.Value{Type: topic.TypeInt64, Data: int64(math.Round(d))}, true
		case string:
			return convertFromString(d, target)
		}
		return topic.Value{}, false

	case topic.TypeDouble:
		switch d := data.(type) {
		case float64:
			return topic.Value{Type: topic.TypeDouble, Data: d}, true
		case int64:
			return topic.Value{Type: topic.TypeDouble, Data: float64(d)}, true
		case string:
			return convertFromString(d, target)
		}
		return topic.Value{}, false
	}

	return topic.Value{}, false
}

// convertFromString applies string-to-primitive conversion rules
func convertFromString(s string, target topic.Type) (topic.Value, bool) {
	switch target {
	case topic.TypeString:
		return topic.Value{Type: topic.TypeString, Data: s}, true
	case topic.TypeInt64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return topic.Value{}, false
		}
		return topic.Value{Type: topic.TypeInt64, Data: n}, true
	case topic.TypeDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return topic.Value{}, false
		}
		return topic.Value{Type: topic.TypeDouble, Data: f}, true
	}
	return topic.Value{}, false
}

// jsonScalarText reads a JSON scalar as text. Only string and integer
// scalars are readable; doubles, booleans, nulls, and structures are not.
func jsonScalarText(data any) (string, bool) {
	switch d := data.(type) {
	case string:
		return d, true
	case int64:
		return strconv.FormatInt(d, 10), true
	default:
		return "", false
	}
}
