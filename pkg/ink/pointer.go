package ink

// Pointer addresses a position inside a Container: Index == -1 means
// "the container itself"; Index >= len(content) is the terminal
// sentinel (end of container, nothing further to resolve).
type Pointer struct {
	Container *Container
	Index     int
}

func NullPointer() Pointer { return Pointer{Container: nil, Index: -1} }

func (p Pointer) IsNull() bool { return p.Container == nil }

// Resolve returns the object addressed by the pointer: the container
// itself (Index == -1, or any Index when the container has no
// content), the child at Index, or nil past the end.
func (p Pointer) Resolve() Object {
	if p.Index < 0 {
		if p.Container == nil {
			return nil
		}
		return p.Container
	}
	if p.Container == nil || len(p.Container.Content) == 0 {
		return p.Container
	}
	if p.Index >= len(p.Container.Content) {
		return nil
	}
	return p.Container.Content[p.Index]
}

// Path computes the addressed location's path without resolving it.
func (p Pointer) Path() *Path {
	if p.Container == nil {
		return nil
	}
	if p.Index >= 0 {
		return PathOf(p.Container).AppendingComponent(PathComponent{Index: p.Index})
	}
	return PathOf(p.Container)
}

func StartOfContainer(c *Container) Pointer { return Pointer{Container: c, Index: 0} }
