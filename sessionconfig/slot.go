package sessionconfig

import (
	"fmt"
	"strings"
)

// Slot names one independently settable configuration value. The string
// value is the persisted key and must stay stable across releases.
type Slot string

const (
	// NodeURL is the network address of the backend node.
	NodeURL Slot = "NODE_URL"
	// ApplicationID identifies the application installed on the node.
	ApplicationID Slot = "APPLICATION_ID"
	// ContextID identifies the active context on the node.
	ContextID Slot = "CONTEXT_ID"
	// ExecutorPublicKey is the public key of the local context executor identity.
	ExecutorPublicKey Slot = "CONTEXT_EXECUTOR_IDENTITY"
)

var allSlots = []Slot{NodeURL, ApplicationID, ContextID, ExecutorPublicKey}

var slotNames = map[Slot]string{
	NodeURL:           "node-url",
	ApplicationID:     "application-id",
	ContextID:         "context-id",
	ExecutorPublicKey: "executor-public-key",
}

// Slots returns every slot in a fixed order.
func Slots() []Slot {
	return append([]Slot(nil), allSlots...)
}

// Key returns the persisted storage key.
func (s Slot) Key() string { return string(s) }

// Name returns the kebab-case name used by the CLI and HTTP API.
func (s Slot) Name() string {
	if n, ok := slotNames[s]; ok {
		return n
	}
	return strings.ToLower(string(s))
}

func (s Slot) String() string { return s.Name() }

// Valid reports whether s is one of the four known slots.
func (s Slot) Valid() bool {
	_, ok := slotNames[s]
	return ok
}

// ParseSlot accepts either the persisted key ("NODE_URL") or the kebab-case
// name ("node-url").
func ParseSlot(v string) (Slot, error) {
	for _, s := range allSlots {
		if v == s.Key() || strings.EqualFold(v, s.Name()) {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSlot, v)
}
