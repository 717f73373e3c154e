// Package topicviews derives virtual reference topics from source topics.
//
// A topic view is a declarative specification:
//
//	map <selector> [from <server>] to <path template> [transformations] [options]
//
// The selector picks source topics, the path template names the reference
// topics to derive, and the optional transformations and options shape the
// published values and publication behavior (throttling, delay, topic type,
// property overrides).
//
// # Packages
//
//   - view: parses view specifications into an executable form
//   - selector: topic selector matching
//   - eval: evaluates a parsed view against source topic events
//   - registry: owns the installed views and the derived reference topics,
//     resolving precedence when several views derive the same path
//   - store: topic and view persistence (in-memory and NATS JetStream)
//   - bridge: consumes source topic events from NATS into the registry
//   - gateway: HTTP admin API and websocket feed of reference topic changes
//   - topic: core topic path, value, and event types
//
// # Data flow
//
//	NATS source subjects → bridge → registry ⇄ eval
//	                                   ↓
//	                           reference sink (JetStream)
//	                                   ↓
//	                           gateway feed (websocket)
//
// Reference topics derived by one view can be sources for another; the
// registry re-dispatches derived events through the same evaluation path
// with a bounded chain depth.
package topicviews
