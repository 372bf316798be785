package objdb

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ByteInterceptor transforms whole encoded records on their way to and from
// the driver. Interceptors apply in registration order on save and in
// reverse order on load, so Load must undo Save.
type ByteInterceptor interface {
	Save(data []byte) ([]byte, error)
	Load(data []byte) ([]byte, error)
}

// AddInterceptor appends ic to the interceptor chain. Records written before
// an interceptor is added will not load through it, so add interceptors
// before the first save.
func (db *DB) AddInterceptor(ic ByteInterceptor) {
	db.regMu.Lock()
	defer db.regMu.Unlock()
	db.interceptors = append(db.interceptors, ic)
}

func (db *DB) interceptorList() []ByteInterceptor {
	db.regMu.RLock()
	defer db.regMu.RUnlock()
	return db.interceptors
}

func (db *DB) interceptSave(data []byte) ([]byte, error) {
	var err error
	for i, ic := range db.interceptorList() {
		data, err = ic.Save(data)
		if err != nil {
			return nil, fmt.Errorf("interceptor %d (%T) on save: %w", i, ic, err)
		}
	}
	return data, nil
}

func (db *DB) interceptLoad(data []byte) ([]byte, error) {
	ics := db.interceptorList()
	var err error
	for i := len(ics) - 1; i >= 0; i-- {
		data, err = ics[i].Load(data)
		if err != nil {
			return nil, fmt.Errorf("interceptor %d (%T) on load: %w", i, ics[i], err)
		}
	}
	return data, nil
}

// ZstdInterceptor compresses records with zstd.
type ZstdInterceptor struct {
	Level zstd.EncoderLevel

	once sync.Once
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	err  error
}

func NewZstdInterceptor() *ZstdInterceptor {
	return &ZstdInterceptor{Level: zstd.SpeedDefault}
}

func (z *ZstdInterceptor) init() error {
	z.once.Do(func() {
		level := z.Level
		if level == 0 {
			level = zstd.SpeedDefault
		}
		z.enc, z.err = zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if z.err != nil {
			return
		}
		z.dec, z.err = zstd.NewReader(nil)
	})
	return z.err
}

func (z *ZstdInterceptor) Save(data []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(data, make([]byte, 0, len(data)/2+16)), nil
}

func (z *ZstdInterceptor) Load(data []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, err
	}
	return z.dec.DecodeAll(data, nil)
}
