// Package descriptor defines a uniform self-description (name, data-flow
// layer, capabilities) for long-running components, and Collect to gather
// and sort them. No component in this repository implements Provider, and
// the operator dashboard does not list components.
package descriptor

import "sort"

// Layer classifies a component's place in the data flow (spec §2).
type Layer int

const (
	LayerIngress Layer = iota
	LayerEngine
	LayerStore
	LayerDispatch
	LayerSurface
)

// Descriptor is static metadata about a running component.
type Descriptor struct {
	Name         string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of d with capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	d.Capabilities = append(append([]string{}, d.Capabilities...), caps...)
	return d
}

// Provider is implemented by components that can describe themselves.
type Provider interface {
	Descriptor() Descriptor
}

// Collect gathers descriptors from providers, sorted by layer then name,
// skipping nil providers.
func Collect(providers []Provider) []Descriptor {
	out := make([]Descriptor, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		out = append(out, p.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		return out[i].Name < out[j].Name
	})
	return out
}
