package registry

import (
	"time"

	"github.com/c360/topicviews/pkg/jsonval"
	"github.com/c360/topicviews/topic"
)

// claim is one view's current mapping of one source topic onto a reference
// path. A reference path can carry claims from several views (and from
// several source topics under expansion); the lowest view sequence wins.
type claim struct {
	view      *viewState
	sourceKey string
	value     topic.Value
	props     topic.Properties
}

// refRecord tracks the registry's state for one reference topic path
type refRecord struct {
	path   string
	claims []*claim

	created bool
	typ     topic.Type
	props   topic.Properties

	lastValue topic.Value
	hasValue  bool

	// delay, captured from the owning view when publication is scheduled
	delay        time.Duration
	delayPending *topic.Value
	delayTimer   *time.Timer
	removeTimer  *time.Timer

	// fixed throttle window with a trailing coalesced flush
	thrWindowStart time.Time
	thrSent        int
	thrPending     *topic.Value
	thrTimer       *time.Timer
}

// owner returns the winning claim: the lowest view sequence, earliest claim
// on a tie. Nil when the record has no claims.
func (rec *refRecord) owner() *claim {
	var own *claim
	for _, c := range rec.claims {
		if own == nil || c.view.seq < own.view.seq {
			own = c
		}
	}
	return own
}

// upsertClaim records or refreshes a view's claim on this path
func (rec *refRecord) upsertClaim(vs *viewState, sourceKey string, value topic.Value, props topic.Properties) {
	for _, c := range rec.claims {
		if c.view == vs && c.sourceKey == sourceKey {
			c.value = value
			c.props = props
			return
		}
	}
	rec.claims = append(rec.claims, &claim{
		view:      vs,
		sourceKey: sourceKey,
		value:     value,
		props:     props,
	})
}

// removeClaim drops a view's claim on this path. Reports whether a claim was
// removed.
func (rec *refRecord) removeClaim(vs *viewState, sourceKey string) bool {
	for i, c := range rec.claims {
		if c.view == vs && c.sourceKey == sourceKey {
			rec.claims = append(rec.claims[:i], rec.claims[i+1:]...)
			return true
		}
	}
	return false
}

// cancelTimers stops any scheduled delay, removal, or throttle work
func (rec *refRecord) cancelTimers() {
	if rec.delayTimer != nil {
		rec.delayTimer.Stop()
		rec.delayTimer = nil
	}
	if rec.removeTimer != nil {
		rec.removeTimer.Stop()
		rec.removeTimer = nil
	}
	if rec.thrTimer != nil {
		rec.thrTimer.Stop()
		rec.thrTimer = nil
	}
	rec.delayPending = nil
	rec.thrPending = nil
}

// resetThrottle clears the throttle window, e.g. after a recreate
func (rec *refRecord) resetThrottle() {
	if rec.thrTimer != nil {
		rec.thrTimer.Stop()
		rec.thrTimer = nil
	}
	rec.thrPending = nil
	rec.thrWindowStart = time.Time{}
	rec.thrSent = 0
}

// sameValue reports whether publishing b over a would be a no-op
func sameValue(a, b topic.Value) bool {
	return a.Type == b.Type &&
		a.EventType == b.EventType &&
		jsonval.CanonicalEqual(a.Data, b.Data)
}
