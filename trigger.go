package objdb

import "context"

// Trigger observes and can veto changes to one store.
type Trigger[T any, K comparable] interface {
	// BeforeSave returns false to abort the save. Nothing is written and
	// no key is allocated.
	BeforeSave(ctx context.Context, obj *T) bool

	AfterSave(ctx context.Context, obj *T)

	// BeforeDelete returns false to abort the delete.
	BeforeDelete(ctx context.Context, key K) bool
}

// TriggerFuncs adapts plain functions to Trigger. Nil functions allow
// everything.
type TriggerFuncs[T any, K comparable] struct {
	BeforeSaveFunc   func(ctx context.Context, obj *T) bool
	AfterSaveFunc    func(ctx context.Context, obj *T)
	BeforeDeleteFunc func(ctx context.Context, key K) bool
}

func (tf TriggerFuncs[T, K]) BeforeSave(ctx context.Context, obj *T) bool {
	if tf.BeforeSaveFunc == nil {
		return true
	}
	return tf.BeforeSaveFunc(ctx, obj)
}

func (tf TriggerFuncs[T, K]) AfterSave(ctx context.Context, obj *T) {
	if tf.AfterSaveFunc != nil {
		tf.AfterSaveFunc(ctx, obj)
	}
}

func (tf TriggerFuncs[T, K]) BeforeDelete(ctx context.Context, key K) bool {
	if tf.BeforeDeleteFunc == nil {
		return true
	}
	return tf.BeforeDeleteFunc(ctx, key)
}

type storeTrigger struct {
	beforeSave   func(ctx context.Context, obj any) bool
	afterSave    func(ctx context.Context, obj any)
	beforeDelete func(ctx context.Context, key any) bool
}

// AddTrigger attaches trig to the store. Triggers run in the order they were
// added; the first veto wins.
func AddTrigger[T any, K comparable](s *Store[T, K], trig Trigger[T, K]) {
	st := &storeTrigger{
		beforeSave: func(ctx context.Context, obj any) bool {
			return trig.BeforeSave(ctx, obj.(*T))
		},
		afterSave: func(ctx context.Context, obj any) {
			trig.AfterSave(ctx, obj.(*T))
		},
		beforeDelete: func(ctx context.Context, key any) bool {
			k, _ := key.(K)
			return trig.BeforeDelete(ctx, k)
		},
	}
	s.def.mu.Lock()
	defer s.def.mu.Unlock()
	s.def.triggers = append(s.def.triggers, st)
}

func (def *storeDef) triggerList() []*storeTrigger {
	def.mu.RLock()
	defer def.mu.RUnlock()
	return def.triggers
}

func (def *storeDef) runBeforeSave(ctx context.Context, obj any) bool {
	for _, t := range def.triggerList() {
		if !t.beforeSave(ctx, obj) {
			return false
		}
	}
	return true
}

func (def *storeDef) runAfterSave(ctx context.Context, obj any) {
	for _, t := range def.triggerList() {
		t.afterSave(ctx, obj)
	}
}

func (def *storeDef) runBeforeDelete(ctx context.Context, key any) bool {
	for _, t := range def.triggerList() {
		if !t.beforeDelete(ctx, key) {
			return false
		}
	}
	return true
}
