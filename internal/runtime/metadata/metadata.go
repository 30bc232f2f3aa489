// Package metadata defines the headers relay attaches to messages crossing a
// broker and converts them to and from watermill metadata.
package metadata

// Reserved keys. Custom headers must not reuse them.
const (
	// KeyEventType names the Go type of the encoded event notification.
	KeyEventType = "relay_event_type"
	// KeyOperationID carries the operation id of the publishing dispatch.
	KeyOperationID = "relay_operation_id"
	// KeyTraceID carries the trace id shared by every hop.
	KeyTraceID = "relay_trace_id"
	// KeyContext carries the downstream correlation data.
	KeyContext = "relay_context"
	// KeyContentType names the codec used for the payload.
	KeyContentType = "relay_content_type"
	// KeyCorrelationID is set by the router when a message arrives without one.
	KeyCorrelationID = "correlation_id"
)

// Metadata holds the headers carried alongside an event notification.
type Metadata map[string]string

// New builds Metadata from alternating key/value pairs. A trailing key
// without value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

func (m Metadata) grow(extra int) Metadata {
	out := make(Metadata, max(len(m)+extra, 0))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy. The copy of a nil map is empty, not nil.
func (m Metadata) Clone() Metadata {
	return m.grow(0)
}

// With returns a copy holding key set to value.
func (m Metadata) With(key, value string) Metadata {
	out := m.grow(1)
	out[key] = value
	return out
}

// WithAll returns a copy holding every entry of entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	out := m.grow(len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out
}

func (m Metadata) EventType() string   { return m[KeyEventType] }
func (m Metadata) OperationID() string { return m[KeyOperationID] }
func (m Metadata) TraceID() string     { return m[KeyTraceID] }
func (m Metadata) Context() string     { return m[KeyContext] }
func (m Metadata) ContentType() string { return m[KeyContentType] }
