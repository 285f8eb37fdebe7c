package pool

import (
	"context"
	"sync"

	"github.com/hookflow-io/hookflow/config"
	gerr "github.com/hookflow-io/hookflow/errors"
	"go.opentelemetry.io/otel"
)

type Callback func(key string, value any) bool

// IPool is the keyed container the addon registry keeps its writer-side
// entries in. Keys are addon ids.
type IPool interface {
	ForEach(cb Callback)
	Put(key string, value any) *gerr.HookFlowError
	Get(key string) any
	GetOrPut(key string, value any) (any, bool, *gerr.HookFlowError)
	Pop(key string) any
	Remove(key string)
	Size() int
	Clear()
	Cap() int
}

type Pool struct {
	pool sync.Map
	cap  int
	ctx  context.Context //nolint:containedctx
}

var _ IPool = &Pool{}

// ForEach iterates over the pool and calls the callback function for each
// key/value pair. Iteration order is unspecified.
func (p *Pool) ForEach(cb Callback) {
	_, span := otel.Tracer(config.TracerName).Start(p.ctx, "ForEach")
	defer span.End()
	p.pool.Range(func(key, value any) bool {
		if k, ok := key.(string); ok {
			return cb(k, value)
		}
		return true
	})
}

// Put adds a new key/value pair to the pool. A capacity of zero means
// unbounded; otherwise a full pool rejects the put.
func (p *Pool) Put(key string, value any) *gerr.HookFlowError {
	_, span := otel.Tracer(config.TracerName).Start(p.ctx, "Put")
	defer span.End()
	if p.cap > 0 && p.Size() >= p.cap {
		span.RecordError(gerr.ErrPoolExhausted)
		return gerr.ErrPoolExhausted
	}
	if value == nil {
		span.RecordError(gerr.ErrNilPointer)
		return gerr.ErrNilPointer
	}

	p.pool.Store(key, value)
	return nil
}

// Get returns the value for the given key, or nil when absent.
func (p *Pool) Get(key string) any {
	_, span := otel.Tracer(config.TracerName).Start(p.ctx, "Get")
	defer span.End()
	if value, ok := p.pool.Load(key); ok {
		return value
	}
	return nil
}

// GetOrPut returns the value for the given key if it exists, otherwise it
// adds the key/value pair to the pool.
func (p *Pool) GetOrPut(key string, value any) (any, bool, *gerr.HookFlowError) {
	_, span := otel.Tracer(config.TracerName).Start(p.ctx, "GetOrPut")
	defer span.End()
	if p.cap > 0 && p.Size() >= p.cap {
		span.RecordError(gerr.ErrPoolExhausted)
		return nil, false, gerr.ErrPoolExhausted
	}
	if value == nil {
		span.RecordError(gerr.ErrNilPointer)
		return nil, false, gerr.ErrNilPointer
	}

	val, loaded := p.pool.LoadOrStore(key, value)
	return val, loaded, nil
}

// Pop removes the key/value pair from the pool and returns the value.
func (p *Pool) Pop(key string) any {
	_, span := otel.Tracer(config.TracerName).Start(p.ctx, "Pop")
	defer span.End()
	if value, ok := p.pool.LoadAndDelete(key); ok {
		return value
	}
	return nil
}

// Remove removes the key/value pair from the pool.
func (p *Pool) Remove(key string) {
	_, span := otel.Tracer(config.TracerName).Start(p.ctx, "Remove")
	defer span.End()
	p.pool.Delete(key)
}

// Size returns the number of key/value pairs in the pool.
func (p *Pool) Size() int {
	_, span := otel.Tracer(config.TracerName).Start(p.ctx, "Size")
	defer span.End()
	var size int
	p.pool.Range(func(_, _ any) bool {
		size++
		return true
	})
	return size
}

// Clear removes all key/value pairs from the pool.
func (p *Pool) Clear() {
	_, span := otel.Tracer(config.TracerName).Start(p.ctx, "Clear")
	defer span.End()
	p.pool = sync.Map{}
}

// Cap returns the capacity of the pool.
func (p *Pool) Cap() int {
	_, span := otel.Tracer(config.TracerName).Start(p.ctx, "Cap")
	defer span.End()
	return p.cap
}

// NewPool creates a new pool with the given capacity.
//
//nolint:predeclared
func NewPool(ctx context.Context, cap int) *Pool {
	poolCtx, span := otel.Tracer(config.TracerName).Start(ctx, "NewPool")
	defer span.End()

	return &Pool{
		pool: sync.Map{},
		cap:  cap,
		ctx:  poolCtx,
	}
}
