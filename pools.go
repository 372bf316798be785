package objdb

import "sync"

var recordBufPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}
