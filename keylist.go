package objdb

import (
	"cmp"
	"slices"
)

// keyList maps application keys to record slots. Slots are handed out from a
// monotonic counter that is persisted with the keys, so a slot is never
// reused until the store is truncated.
type keyList struct {
	slots map[any]int64
	next  int64
	dirty bool
}

func newKeyList() *keyList {
	return &keyList{slots: make(map[any]int64)}
}

func (kl *keyList) Len() int {
	return len(kl.slots)
}

func (kl *keyList) slotOf(key any) (int64, bool) {
	slot, ok := kl.slots[key]
	return slot, ok
}

// add returns the slot of key, allocating one if the key is new.
func (kl *keyList) add(key any) (slot int64, added bool) {
	if slot, ok := kl.slots[key]; ok {
		return slot, false
	}
	slot = kl.next
	kl.next++
	kl.slots[key] = slot
	kl.dirty = true
	return slot, true
}

// set records a known key/slot pair, as read back from a driver.
func (kl *keyList) set(key any, slot int64) {
	kl.slots[key] = slot
	if slot >= kl.next {
		kl.next = slot + 1
	}
}

// raiseNext moves the slot counter up to n. It never moves it down.
func (kl *keyList) raiseNext(n int64) {
	if n > kl.next {
		kl.next = n
	}
}

func (kl *keyList) remove(key any) (int64, bool) {
	slot, ok := kl.slots[key]
	if ok {
		delete(kl.slots, key)
		kl.dirty = true
	}
	return slot, ok
}

func (kl *keyList) reset() {
	clear(kl.slots)
	kl.next = 0
	kl.dirty = false
}

type keySlot struct {
	key  any
	slot int64
}

// sorted returns all entries in slot order.
func (kl *keyList) sorted() []keySlot {
	result := make([]keySlot, 0, len(kl.slots))
	for k, slot := range kl.slots {
		result = append(result, keySlot{k, slot})
	}
	slices.SortFunc(result, func(a, b keySlot) int {
		return cmp.Compare(a.slot, b.slot)
	})
	return result
}
