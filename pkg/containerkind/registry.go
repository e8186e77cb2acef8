// Package containerkind holds the catalog of container kinds: their
// coordinate grammar, which kinds they may contain and whether they are
// instrument run consumables.
//
// A Registry is built once with a Builder and is immutable afterwards. It is
// handed to every consumer explicitly; there is no package-level catalog
// mutated at import time.
package containerkind

import (
	"fmt"
	"sort"
	"strings"

	"labcore/pkg/coordinate"
)

// Name identifies a container kind. Values obtained from Registry.Parse are
// known to be registered.
type Name string

// NotFoundError is returned when a kind name is not registered.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("container kind %q is not registered", e.Name)
}

// Spec describes one registered kind.
type Spec struct {
	name     Name
	coords   coordinate.Spec
	overlap  bool
	run      bool
	children []*Spec
	childSet map[Name]struct{}
	parents  []*Spec
}

// Name returns the kind name.
func (s *Spec) Name() Name { return s.name }

// Coordinates returns the grammar used for children placed inside this kind.
func (s *Spec) Coordinates() coordinate.Spec { return s.coords }

// CoordinateOverlapAllowed reports whether children may share a coordinate.
func (s *Spec) CoordinateOverlapAllowed() bool { return s.overlap }

// IsRunContainer reports whether the kind is an instrument consumable.
func (s *Spec) IsRunContainer() bool { return s.run }

// CanHold reports whether child is a declared child kind.
func (s *Spec) CanHold(child Name) bool {
	_, ok := s.childSet[child]
	return ok
}

// RequiresCoordinates reports whether the grammar has at least one axis.
func (s *Spec) RequiresCoordinates() bool { return !s.coords.IsEmpty() }

// IsSampleHolding reports whether the kind is a leaf that holds samples.
func (s *Spec) IsSampleHolding() bool { return len(s.children) == 0 }

// IsSource reports whether no other kind declares this one as a child.
func (s *Spec) IsSource() bool {
	for _, p := range s.parents {
		if p != s {
			return false
		}
	}
	return true
}

// Children returns the declared child kind names in declaration order.
func (s *Spec) Children() []Name { return specNames(s.children) }

// Parents returns the names of kinds declaring this kind as a child.
func (s *Spec) Parents() []Name { return specNames(s.parents) }

func specNames(specs []*Spec) []Name {
	out := make([]Name, len(specs))
	for i, s := range specs {
		out[i] = s.name
	}
	return out
}

// Registry is the immutable catalog of kinds and its derived name sets.
type Registry struct {
	kinds map[Name]*Spec
	order []Name

	runContainers           []Name
	sampleHolding           []Name
	nonSampleHolding        []Name
	sampleHoldingWithCoords []Name
	parentKinds             []Name
	sources                 []Name
}

// Get returns the spec for a registered name.
func (r *Registry) Get(name Name) (*Spec, error) {
	spec, ok := r.kinds[name]
	if !ok {
		return nil, &NotFoundError{Name: string(name)}
	}
	return spec, nil
}

// Parse resolves free text (surrounding whitespace ignored) to a registered
// kind. It is the boundary where kind strings enter the system.
func (r *Registry) Parse(raw string) (*Spec, error) {
	return r.Get(Name(strings.TrimSpace(raw)))
}

// Has reports whether name is registered.
func (r *Registry) Has(name Name) bool {
	_, ok := r.kinds[name]
	return ok
}

// Specs returns every spec in declaration order.
func (r *Registry) Specs() []*Spec {
	out := make([]*Spec, len(r.order))
	for i, n := range r.order {
		out[i] = r.kinds[n]
	}
	return out
}

// Names returns every registered name in declaration order.
func (r *Registry) Names() []Name { return cloneNames(r.order) }

// RunContainerNames returns kinds usable as instrument run containers.
func (r *Registry) RunContainerNames() []Name { return cloneNames(r.runContainers) }

// SampleHoldingNames returns leaf kinds that hold samples directly.
func (r *Registry) SampleHoldingNames() []Name { return cloneNames(r.sampleHolding) }

// NonSampleHoldingNames returns kinds that only hold other containers.
func (r *Registry) NonSampleHoldingNames() []Name { return cloneNames(r.nonSampleHolding) }

// SampleHoldingWithCoordinatesNames returns sample-holding kinds with a grammar.
func (r *Registry) SampleHoldingWithCoordinatesNames() []Name {
	return cloneNames(r.sampleHoldingWithCoords)
}

// ParentNames returns kinds declaring at least one child kind.
func (r *Registry) ParentNames() []Name { return cloneNames(r.parentKinds) }

// SourceNames returns kinds no other kind may contain.
func (r *Registry) SourceNames() []Name { return cloneNames(r.sources) }

func cloneNames(in []Name) []Name {
	return append([]Name(nil), in...)
}

// Definition declares a kind for the Builder.
type Definition struct {
	Name           Name
	Coordinates    coordinate.Spec
	OverlapAllowed bool
	RunContainer   bool
	Children       []Name
}

// Builder accumulates definitions. Children must be defined before the kinds
// containing them, which keeps the containment graph acyclic; the only cycle
// admitted is an explicit self-nesting edge.
type Builder struct {
	defs        []Definition
	selfNesting []Name
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

// Define appends a kind definition.
func (b *Builder) Define(def Definition) *Builder {
	def.Children = append([]Name(nil), def.Children...)
	b.defs = append(b.defs, def)
	return b
}

// AllowSelfNesting lets instances of name contain instances of the same kind.
func (b *Builder) AllowSelfNesting(name Name) *Builder {
	b.selfNesting = append(b.selfNesting, name)
	return b
}

// Build validates the definitions and returns the frozen registry.
func (b *Builder) Build() (*Registry, error) {
	reg := &Registry{kinds: make(map[Name]*Spec, len(b.defs))}
	for _, def := range b.defs {
		if strings.TrimSpace(string(def.Name)) == "" {
			return nil, fmt.Errorf("containerkind: empty kind name")
		}
		if _, dup := reg.kinds[def.Name]; dup {
			return nil, fmt.Errorf("containerkind: kind %q defined twice", def.Name)
		}
		spec := &Spec{
			name:     def.Name,
			coords:   def.Coordinates,
			overlap:  def.OverlapAllowed,
			run:      def.RunContainer,
			childSet: make(map[Name]struct{}, len(def.Children)),
		}
		for _, childName := range def.Children {
			child, ok := reg.kinds[childName]
			if !ok {
				return nil, fmt.Errorf("containerkind: kind %q lists %q as a child before it is defined", def.Name, childName)
			}
			if _, dup := spec.childSet[childName]; dup {
				continue
			}
			spec.children = append(spec.children, child)
			spec.childSet[childName] = struct{}{}
			child.parents = append(child.parents, spec)
		}
		reg.kinds[def.Name] = spec
		reg.order = append(reg.order, def.Name)
	}
	for _, name := range b.selfNesting {
		spec, ok := reg.kinds[name]
		if !ok {
			return nil, &NotFoundError{Name: string(name)}
		}
		if spec.CanHold(name) {
			continue
		}
		spec.children = append(spec.children, spec)
		spec.childSet[name] = struct{}{}
		spec.parents = append(spec.parents, spec)
	}
	reg.derive()
	return reg, nil
}

func (r *Registry) derive() {
	for _, name := range r.order {
		spec := r.kinds[name]
		if spec.run {
			r.runContainers = append(r.runContainers, name)
		}
		if spec.IsSampleHolding() {
			r.sampleHolding = append(r.sampleHolding, name)
			if spec.RequiresCoordinates() {
				r.sampleHoldingWithCoords = append(r.sampleHoldingWithCoords, name)
			}
		} else {
			r.nonSampleHolding = append(r.nonSampleHolding, name)
			r.parentKinds = append(r.parentKinds, name)
		}
		if spec.IsSource() {
			r.sources = append(r.sources, name)
		}
	}
	for _, list := range [][]Name{r.runContainers, r.sampleHolding, r.nonSampleHolding, r.sampleHoldingWithCoords, r.parentKinds, r.sources} {
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	}
}
