// Package events provides the change-notification fan-out for CaseHub.
// The Broker carries debounced filesystem change events from the watcher
// to any number of per-topic subscribers (SSE streams, index rebuilds).
package events

import "time"

// TopicIndex is the distinguished topic for case-listing changes: a case
// folder appearing or disappearing at the top level of the workspace.
// Per-case topics are the case keys themselves.
const TopicIndex = "index"

// TopicAll subscribes to every event regardless of topic. Used by the
// workspace-wide watch stream; clients re-pull the full listing on any
// event, so cross-topic coalescing is acceptable there.
const TopicAll = "*"

// ChangeKind classifies what happened to a watched path.
type ChangeKind string

const (
	KindCreated  ChangeKind = "created"
	KindModified ChangeKind = "modified"
	KindDeleted  ChangeKind = "deleted"
)

// ChangeEvent is a single coalesced change notification. It signals that
// something under a topic changed, not what: clients that need content pull
// it separately after receiving the event.
type ChangeEvent struct {
	// Topic is the case key, or TopicIndex for listing-level changes.
	Topic string `json:"topic"`

	// Kind is the last observed operation within the debounce window.
	Kind ChangeKind `json:"kind"`

	// ObservedAt is when the change was detected.
	ObservedAt time.Time `json:"observed_at"`
}
