package objdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotActive           = errors.New("database is not activated")
	ErrAlreadyActivated    = errors.New("database can only be activated once")
	ErrStoreNotFound       = errors.New("store not found")
	ErrDuplicateStore      = errors.New("store already registered")
	ErrIndexNotFound       = errors.New("index not found")
	ErrTriggerAbort        = errors.New("aborted by trigger")
	ErrTypeResolution      = errors.New("cannot resolve type")
	ErrVersionMismatch     = errors.New("backup format version mismatch")
	ErrSerializerIncapable = errors.New("value serializer cannot handle type")
	ErrOperationTimeout    = errors.New("operation timed out")
	ErrPurgeConflict       = errors.New("other operations are in flight")

	// ErrNotFound is returned by Driver.LoadRaw and Driver.DeleteRaw when there
	// is no record at the given slot.
	ErrNotFound = errors.New("record not found")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

// StoreError attaches store, index and key context to an error.
type StoreError struct {
	Store StoreID
	Index string
	Key   any
	Msg   string
	Err   error
}

func storeErrf(store StoreID, index string, key any, err error, format string, args ...any) error {
	return &StoreError{store, index, key, fmt.Sprintf(format, args...), err}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Error() string {
	var buf strings.Builder
	buf.WriteString(string(e.Store))
	if e.Index != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Index)
	}
	if e.Key != nil {
		fmt.Fprintf(&buf, "/%v", e.Key)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
