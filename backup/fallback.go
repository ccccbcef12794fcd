package backup

import (
	"context"
	"errors"
	"fmt"

	metrics "github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

// ErrFallbackExhausted matches every *FallbackExhaustedError.
var ErrFallbackExhausted = errors.New("primary source failed and no backup snapshot exists")

// FallbackExhaustedError is returned when the primary fetch failed and the
// backup held nothing usable for the key.
type FallbackExhaustedError struct {
	Store string
	Key   string
	Cause error
}

func (e *FallbackExhaustedError) Error() string {
	return fmt.Sprintf("%s/%s: %v: %v", e.Store, e.Key, ErrFallbackExhausted, e.Cause)
}

func (e *FallbackExhaustedError) Unwrap() error {
	return e.Cause
}

func (e *FallbackExhaustedError) Is(target error) bool {
	return target == ErrFallbackExhausted
}

// Snapshots is the keyed blob storage a Fallback reads from and writes to.
type Snapshots interface {
	Read(store, key string, dst interface{}) (bool, error)
	Write(store, key string, v interface{}) error
}

// Fallback serves the last persisted snapshot of one logical store when the
// primary source fails. It never persists on its own; callers decide when a
// fresh value is worth writing with Persist.
type Fallback struct {
	snapshots Snapshots
	name      string
	degraded  metrics.Counter
	exhausted metrics.Counter
}

func NewFallback(snapshots Snapshots, name string, registry metrics.Registry) *Fallback {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	return &Fallback{
		snapshots: snapshots,
		name:      name,
		degraded:  metrics.GetOrRegisterCounter("backup."+name+".degraded", registry),
		exhausted: metrics.GetOrRegisterCounter("backup."+name+".exhausted", registry),
	}
}

func (f *Fallback) Name() string {
	return f.name
}

// Persist writes v as the snapshot for key.
func (f *Fallback) Persist(key string, v interface{}) error {
	return f.snapshots.Write(f.name, key, v)
}

// Result is a fetched value and whether it came from the backup.
type Result[T any] struct {
	Value    T
	Degraded bool
}

// Fetch calls primary and returns its value. If primary fails for any reason,
// deadlines included, the snapshot for key is returned instead and the result
// is marked degraded. Without a snapshot the error is a
// *FallbackExhaustedError wrapping the primary failure.
func Fetch[T any](ctx context.Context, f *Fallback, key string, primary func(context.Context) (T, error)) (Result[T], error) {
	value, err := primary(ctx)
	if err == nil {
		return Result[T]{Value: value}, nil
	}

	log.WithError(err).Warnf("Primary fetch of %s/%s failed, attempting to read from backup.", f.name, key)
	var snapshot T
	found, readErr := f.snapshots.Read(f.name, key, &snapshot)
	if readErr != nil {
		log.WithError(readErr).Errorf("Unable to read %s/%s from backup.", f.name, key)
	}
	if readErr != nil || !found {
		f.exhausted.Inc(1)
		log.Errorf("No %s snapshot found in backup for %s.", f.name, key)
		return Result[T]{}, &FallbackExhaustedError{Store: f.name, Key: key, Cause: err}
	}

	f.degraded.Inc(1)
	log.Warnf("Serving %s/%s from backup snapshot.", f.name, key)
	return Result[T]{Value: snapshot, Degraded: true}, nil
}
