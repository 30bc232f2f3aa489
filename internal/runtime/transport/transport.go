// Package transport describes how a payload is being delivered: the transport
// name and the role of the current call site.
package transport

// InProcessName is the name of the transport that invokes handlers directly
// inside the current process.
const InProcessName = "in-process"

// Role identifies which side of a transport boundary a call represents.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
	RoleClient
	RoleServer
	RolePublisher
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	case RolePublisher:
		return "publisher"
	default:
		return "unknown"
	}
}

// IsOriginating reports whether the role starts a delivery rather than
// receiving one.
func (r Role) IsOriginating() bool {
	return r == RoleSender || r == RoleClient || r == RolePublisher
}

// Type is the immutable (name, role) pair describing the current delivery.
type Type struct {
	Name string
	Role Role
}

// NewType returns the descriptor for name and role.
func NewType(name string, role Role) Type {
	return Type{Name: name, Role: role}
}

// IsInProcess reports whether the payload is delivered without leaving the process.
func (t Type) IsInProcess() bool {
	return t.Name == InProcessName
}

func (t Type) String() string {
	return t.Name + "/" + t.Role.String()
}
