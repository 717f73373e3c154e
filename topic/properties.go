package topic

import (
	"strconv"
	"strings"
)

// Properties holds the topic properties of a topic keyed by property name
type Properties map[string]string

// Topic property keys
const (
	PropCompression              = "COMPRESSION"
	PropConflation               = "CONFLATION"
	PropDontRetainValue          = "DONT_RETAIN_VALUE"
	PropOwner                    = "OWNER"
	PropPersistent               = "PERSISTENT"
	PropPriority                 = "PRIORITY"
	PropPublishValuesOnly        = "PUBLISH_VALUES_ONLY"
	PropRemoval                  = "REMOVAL"
	PropSchema                   = "SCHEMA"
	PropTidyOnUnsubscribe        = "TIDY_ON_UNSUBSCRIBE"
	PropTimeSeriesEventValueType = "TIME_SERIES_EVENT_VALUE_TYPE"
	PropTimeSeriesRetainedRange  = "TIME_SERIES_RETAINED_RANGE"
	PropTimeSeriesSubscription   = "TIME_SERIES_SUBSCRIPTION_RANGE"
	PropValidateValues           = "VALIDATE_VALUES"
)

// copyable lists the source properties copied onto reference topics by
// default and settable via "with properties".
var copyable = map[string]bool{
	PropCompression:             true,
	PropConflation:              true,
	PropDontRetainValue:         true,
	PropPriority:                true,
	PropPublishValuesOnly:       true,
	PropTidyOnUnsubscribe:       true,
	PropTimeSeriesRetainedRange: true,
	PropTimeSeriesSubscription:  true,
}

// copiedNotSettable lists properties copied from the source but never
// overridable by a topic property mapping.
var copiedNotSettable = map[string]bool{
	PropSchema:                   true,
	PropTimeSeriesEventValueType: true,
}

// IsMappable reports whether a property key may appear in a
// "with properties" clause.
func IsMappable(key string) bool {
	return copyable[strings.ToUpper(key)]
}

// DeriveReference computes the properties of a reference topic from its
// source topic's properties and the view's explicit property mapping.
// Non-copyable properties (owner, persistence, removal policy, validation)
// are never set on reference topics. The time series retained range may only
// be tightened relative to the source.
func DeriveReference(source, overrides Properties) Properties {
	derived := make(Properties)

	for key, val := range source {
		if copyable[key] || copiedNotSettable[key] {
			derived[key] = val
		}
	}

	for key, val := range overrides {
		key = strings.ToUpper(key)
		if !copyable[key] {
			continue
		}
		if key == PropTimeSeriesRetainedRange {
			derived[key] = tightenRetainedRange(source[key], val)
			continue
		}
		derived[key] = val
	}

	return derived
}

// tightenRetainedRange constrains an override of the retained range so it
// never exceeds the source's range. Ranges take the form "limit N"; anything
// unrecognised falls back to the source value.
func tightenRetainedRange(source, override string) string {
	srcLimit, srcOK := parseRangeLimit(source)
	ovrLimit, ovrOK := parseRangeLimit(override)

	if !ovrOK {
		if source != "" {
			return source
		}
		return override
	}
	if srcOK && ovrLimit > srcLimit {
		return source
	}
	return override
}

func parseRangeLimit(r string) (int64, bool) {
	fields := strings.Fields(strings.ToLower(r))
	if len(fields) != 2 || fields[0] != "limit" {
		return 0, false
	}
	n, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Clone returns a copy of the properties map
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	clone := make(Properties, len(p))
	for k, v := range p {
		clone[k] = v
	}
	return clone
}
