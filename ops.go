package objdb

import (
	"context"
	"log/slog"
)

// logOp writes a verbose log line such as "db: SAVE person/10".
func (db *DB) logOp(ctx context.Context, what string, def *storeDef, key any, op *opCache) {
	if !db.verbose {
		return
	}
	attrs := make([]slog.Attr, 0, 3)
	attrs = append(attrs, slog.String("store", string(def.id)))
	if key != nil {
		attrs = append(attrs, slog.Any("key", key))
	}
	if op != nil {
		attrs = append(attrs, slog.String("op", op.id.String()))
	}
	db.logger.LogAttrs(ctx, slog.LevelDebug, "db: "+what, attrs...)
}
