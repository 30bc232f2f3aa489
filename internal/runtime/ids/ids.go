// Package ids generates the operation and trace identifiers attached to every
// dispatch.
package ids

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// Factory produces identifiers for operations.
type Factory interface {
	NewID() string
}

// FactoryFunc adapts a plain function to the Factory interface.
type FactoryFunc func() string

// NewID calls f.
func (f FactoryFunc) NewID() string { return f() }

// Default returns the ULID backed factory used when none is supplied.
func Default() Factory {
	return FactoryFunc(CreateULID)
}

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewTraceID returns the trace id of the span active in ctx. Without a valid
// span a random 32 character hex id is generated so correlation still works
// when tracing is disabled.
func NewTraceID(ctx context.Context) string {
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			return sc.TraceID().String()
		}
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
