// Package correlation carries the per-operation correlation state: trace id,
// operation id, and scoped context data flowing downstream, upstream, or in
// both directions.
package correlation

import (
	"context"
	"sync"

	"github.com/drblury/relay/internal/runtime/ids"
)

type contextKey struct{}

// Context is the correlation state of one logical invocation. A Context is
// owned by the dispatch that created it until that dispatch releases it.
type Context struct {
	mu          sync.RWMutex
	traceID     string
	operationID string

	downstream    Data
	upstream      Data
	bidirectional Data
}

// New returns an empty Context with the given trace id.
func New(traceID string) *Context {
	return &Context{traceID: traceID}
}

func (c *Context) TraceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.traceID
}

func (c *Context) SetTraceID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traceID = id
}

// OperationID returns the id of the message or notification currently being
// processed, or "" when none was assigned yet.
func (c *Context) OperationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.operationID
}

func (c *Context) SetOperationID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operationID = id
}

// DownstreamData flows from caller to handler.
func (c *Context) DownstreamData() *Data { return &c.downstream }

// UpstreamData flows from handler back to caller.
func (c *Context) UpstreamData() *Data { return &c.upstream }

// Data flows in both directions.
func (c *Context) Data() *Data { return &c.bidirectional }

func (c *Context) clone() *Context {
	c.mu.RLock()
	child := &Context{traceID: c.traceID, operationID: c.operationID}
	c.mu.RUnlock()

	child.downstream.copyFrom(&c.downstream)
	child.bidirectional.copyFrom(&c.bidirectional)
	return child
}

// mergeInto copies upstream data to parent and replaces the parent's
// bidirectional data so removals in the child propagate too.
func (c *Context) mergeInto(parent *Context) {
	parent.upstream.copyFrom(&c.upstream)
	parent.bidirectional.replaceWith(&c.bidirectional)
}

// WithContext returns a copy of ctx carrying cc as the ambient Context.
func WithContext(ctx context.Context, cc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, cc)
}

// FromContext returns the ambient Context, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	cc, ok := ctx.Value(contextKey{}).(*Context)
	return cc, ok && cc != nil
}

// CloneOrCreate starts a new correlation scope. With an ambient Context the
// returned one is a clone holding its trace id, operation id, downstream and
// bidirectional data; otherwise a fresh Context with a new trace id is created.
// The release func must be called once the scope ends. It merges upstream and
// bidirectional data back into the parent and is safe to call repeatedly.
// The caller's ctx is never modified, so the previous ambient Context stays in
// effect for it.
func CloneOrCreate(ctx context.Context) (context.Context, *Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}

	parent, ok := FromContext(ctx)
	if !ok {
		cc := New(ids.NewTraceID(ctx))
		return WithContext(ctx, cc), cc, func() {}
	}

	child := parent.clone()
	var once sync.Once
	release := func() {
		once.Do(func() { child.mergeInto(parent) })
	}
	return WithContext(ctx, child), child, release
}

// GetOrCreate returns the ambient Context without cloning it, creating and
// attaching a fresh one when there is none.
func GetOrCreate(ctx context.Context) (context.Context, *Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cc, ok := FromContext(ctx); ok {
		return ctx, cc
	}
	cc := New(ids.NewTraceID(ctx))
	return WithContext(ctx, cc), cc
}
