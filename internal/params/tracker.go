package params

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// missingSlot is one table index that has not been delivered.
type missingSlot struct {
	Index        uint16
	Attempts     int
	MissingSince time.Time
}

// slotTracker counts re-request attempts per index for the current load.
// It is owned by the synchronizer loop.
type slotTracker map[uint16]*missingSlot

// note returns the slot for index, creating it at now.
func (t slotTracker) note(index uint16, now time.Time) *missingSlot {
	slot, ok := t[index]
	if !ok {
		slot = &missingSlot{Index: index, MissingSince: now}
		t[index] = slot
	}
	return slot
}

func (t slotTracker) remove(index uint16) { delete(t, index) }

// abandoned lists slots that used up maxAttempts, lowest index first.
func (t slotTracker) abandoned(maxAttempts int) []missingSlot {
	var out []missingSlot
	for _, slot := range t {
		if slot.Attempts >= maxAttempts {
			out = append(out, *slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// describeSlots renders "index 5" or "indices 3, 7".
func describeSlots(slots []missingSlot) string {
	if len(slots) == 1 {
		return "index " + strconv.Itoa(int(slots[0].Index))
	}
	parts := make([]string, len(slots))
	for i, slot := range slots {
		parts[i] = strconv.Itoa(int(slot.Index))
	}
	return "indices " + strings.Join(parts, ", ")
}
