// Package tabsync keeps every open tab looking at the same session.
//
// Two signals feed one callback:
//
//	storage-changed  → another tab wrote the shared durable store
//	profile-updated  → this tab just mutated the session itself
//
// A browser never fires the storage signal in the tab that did the write,
// which is why the in-page signal exists. Sync reproduces both rules: the
// in-page signal stays on the local Bus, and storage-changed events travel
// over a Channel and are dropped by the tab they came from.
//
// Events carry no state. Subscribers re-read the session store.
package tabsync

import "time"

// Kind names the signal that produced an Event.
type Kind string

const (
	KindStorageChanged Kind = "storage"
	KindProfileUpdated Kind = "profile-updated"
)

// Event is a change notification.
type Event struct {
	Kind   Kind      `json:"kind"`
	Origin string    `json:"origin"`
	Key    string    `json:"key,omitempty"`
	At     time.Time `json:"at"`
}
