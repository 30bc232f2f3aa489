package transport

// Capability names a kind of transport a handler can be reached through.
type Capability string

// CapabilityInProcess is available on every registration unless explicitly
// disabled.
const CapabilityInProcess Capability = InProcessName

// TypesInjector is implemented once per concrete payload type and transport
// kind. Registries filter handlers by the capability it reports, and the
// transport adapter type-asserts it back to its own concrete injector to
// recover strong typing without reflection.
type TypesInjector interface {
	Capability() Capability
}

type inProcessInjector struct{}

func (inProcessInjector) Capability() Capability { return CapabilityInProcess }

// InProcess returns the injector marking a handler as callable in-process.
func InProcess() TypesInjector { return inProcessInjector{} }

// FindInjector returns the first injector reporting capability.
func FindInjector(injectors []TypesInjector, capability Capability) (TypesInjector, bool) {
	for _, inj := range injectors {
		if inj != nil && inj.Capability() == capability {
			return inj, true
		}
	}
	return nil, false
}
