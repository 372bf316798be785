package objdb

// indexItem is one (value, value2, key) tuple of an index collection.
type indexItem struct {
	value  any
	value2 any
	key    any
}

// indexCollection is an unordered multiset of index tuples with at most one
// tuple per application key.
type indexCollection struct {
	items []indexItem
	pos   map[any]int
	dirty bool
}

func newIndexCollection() *indexCollection {
	return &indexCollection{pos: make(map[any]int)}
}

func (ic *indexCollection) Len() int {
	return len(ic.items)
}

// add inserts the tuple for key, or replaces it in place if key is already
// indexed.
func (ic *indexCollection) add(key, value, value2 any) {
	item := indexItem{value: value, value2: value2, key: key}
	if i, ok := ic.pos[key]; ok {
		ic.items[i] = item
	} else {
		ic.pos[key] = len(ic.items)
		ic.items = append(ic.items, item)
	}
	ic.dirty = true
}

// update replaces the values indexed for key, reporting false if key is
// not indexed.
func (ic *indexCollection) update(key, value, value2 any) bool {
	i, ok := ic.pos[key]
	if !ok {
		return false
	}
	ic.items[i].value = value
	ic.items[i].value2 = value2
	ic.dirty = true
	return true
}

func (ic *indexCollection) remove(key any) bool {
	i, ok := ic.pos[key]
	if !ok {
		return false
	}
	last := len(ic.items) - 1
	if i != last {
		ic.items[i] = ic.items[last]
		ic.pos[ic.items[i].key] = i
	}
	ic.items[last] = indexItem{}
	ic.items = ic.items[:last]
	delete(ic.pos, key)
	ic.dirty = true
	return true
}

func (ic *indexCollection) reset() {
	clear(ic.items)
	ic.items = ic.items[:0]
	clear(ic.pos)
	ic.dirty = false
}

func (ic *indexCollection) snapshot() []indexItem {
	result := make([]indexItem, len(ic.items))
	copy(result, ic.items)
	return result
}
