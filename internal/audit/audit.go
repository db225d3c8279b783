// Package audit emits structured events for entitlement lifecycle
// changes. Publishing is best effort; an unreachable broker must never
// fail a reconciliation.
package audit

import (
	"context"
	"time"
)

// Action names one auditable change.
type Action string

const (
	ActionEntitlementAdded    Action = "entitlement_added"
	ActionEntitlementRemoved  Action = "entitlement_removed"
	ActionEntitlementAssigned Action = "entitlement_assigned"
	ActionEntitlementRevoked  Action = "entitlement_revoked"
	ActionCatalogPromoted     Action = "catalog_promoted"
	ActionIdentityCorrelated  Action = "identity_correlated"
)

// Event is the transport-agnostic audit record. Identity is the
// partition key so one identity's trail stays ordered.
type Event struct {
	Action         Action    `json:"action"`
	Timestamp      time.Time `json:"timestamp"`
	Identity       string    `json:"identity"`
	Application    string    `json:"application,omitempty"`
	Instance       string    `json:"instance,omitempty"`
	NativeIdentity string    `json:"nativeIdentity,omitempty"`
	Attribute      string    `json:"attribute,omitempty"`
	Value          string    `json:"value,omitempty"`
	Source         string    `json:"source,omitempty"`
	Actor          string    `json:"actor,omitempty"`
}

// Publisher records audit events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Emit(ctx context.Context, event Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Recorder keeps events in memory for tests.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) {
	r.Events = append(r.Events, event)
}
