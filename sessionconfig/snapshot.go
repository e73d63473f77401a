package sessionconfig

import "context"

// Source records where a resolved value came from.
type Source string

const (
	SourceStored  Source = "stored"
	SourceDefault Source = "default"
	SourceNone    Source = "none"
)

// SlotValue is one resolved slot.
type SlotValue struct {
	Value  string `json:"value"`
	Source Source `json:"source"`
}

// Snapshot is every slot resolved at one point in time. Slots are read one by
// one, so a concurrent writer can leave it mixing old and new values.
type Snapshot struct {
	NodeURL           SlotValue `json:"node_url"`
	ApplicationID     SlotValue `json:"application_id"`
	ContextID         SlotValue `json:"context_id"`
	ExecutorPublicKey SlotValue `json:"executor_public_key"`
}

// Snapshot resolves all four slots.
func (s *Store) Snapshot(ctx context.Context) Snapshot {
	var snap Snapshot
	for _, slot := range allSlots {
		v, src := s.resolve(ctx, slot)
		*snap.field(slot) = SlotValue{Value: v, Source: src}
	}
	return snap
}

// Get returns the resolved value of slot.
func (snap *Snapshot) Get(slot Slot) SlotValue {
	if f := snap.field(slot); f != nil {
		return *f
	}
	return SlotValue{Source: SourceNone}
}

func (snap *Snapshot) field(slot Slot) *SlotValue {
	switch slot {
	case NodeURL:
		return &snap.NodeURL
	case ApplicationID:
		return &snap.ApplicationID
	case ContextID:
		return &snap.ContextID
	case ExecutorPublicKey:
		return &snap.ExecutorPublicKey
	}
	return nil
}

// IdentityMismatch reports whether the locally persisted executor key and the
// key asserted by a credential are both known and differ. Nothing in this
// package acts on the result.
func (snap *Snapshot) IdentityMismatch(claimed string) bool {
	local := snap.ExecutorPublicKey.Value
	return local != "" && claimed != "" && local != claimed
}
