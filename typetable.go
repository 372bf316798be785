package objdb

import (
	"fmt"
	"slices"
	"sync"
)

// TypeTable maps fully-qualified type names to small integer codes. It only
// ever grows: once assigned, a code keeps naming the same type, including
// across restarts when the driver persists the table.
type TypeTable struct {
	mu      sync.RWMutex
	names   []string
	codes   map[string]int
	persist func(names []string) error
}

// NewTypeTable returns a table seeded with names. persist, if not nil, is
// called with the full list every time a new name is appended; a failed
// persist rolls the append back.
func NewTypeTable(names []string, persist func(names []string) error) *TypeTable {
	tt := &TypeTable{persist: persist}
	tt.reset(names)
	return tt
}

func (tt *TypeTable) reset(names []string) {
	tt.names = slices.Clone(names)
	tt.codes = make(map[string]int, len(names))
	for i, name := range tt.names {
		tt.codes[name] = i
	}
}

// CodeOf returns the code of name, appending it if this is the first time
// the table sees it.
func (tt *TypeTable) CodeOf(name string) (int, error) {
	tt.mu.RLock()
	code, ok := tt.codes[name]
	tt.mu.RUnlock()
	if ok {
		return code, nil
	}

	tt.mu.Lock()
	defer tt.mu.Unlock()
	if code, ok := tt.codes[name]; ok {
		return code, nil
	}
	code = len(tt.names)
	tt.names = append(tt.names, name)
	tt.codes[name] = code
	if tt.persist != nil {
		err := tt.persist(slices.Clone(tt.names))
		if err != nil {
			tt.names = tt.names[:code]
			delete(tt.codes, name)
			return 0, fmt.Errorf("persisting type table: %w", err)
		}
	}
	return code, nil
}

func (tt *TypeTable) NameAt(code int) (string, error) {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	if code < 0 || code >= len(tt.names) {
		return "", fmt.Errorf("%w: type code %d out of range [0, %d)", ErrTypeResolution, code, len(tt.names))
	}
	return tt.names[code], nil
}

func (tt *TypeTable) Names() []string {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return slices.Clone(tt.names)
}

func (tt *TypeTable) Len() int {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return len(tt.names)
}

// Restore replaces the whole table with names.
func (tt *TypeTable) Restore(names []string) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	old := tt.names
	tt.reset(names)
	if tt.persist != nil {
		err := tt.persist(slices.Clone(tt.names))
		if err != nil {
			tt.reset(old)
			return fmt.Errorf("persisting type table: %w", err)
		}
	}
	return nil
}

// Save re-persists the current table.
func (tt *TypeTable) Save() error {
	if tt.persist == nil {
		return nil
	}
	return tt.persist(tt.Names())
}
