// Package ink is the runtime interpreter for compiled Ink stories: a
// stack-based virtual machine over a tagged JSON object tree, with
// diverts, tunnels, functions, threads, variable scoping with a
// copy-on-write patch, and a line-by-line continue/choose API.
package ink

// DebugMetadata carries source-location info for error reporting. It is
// optional on every object; an object with no metadata of its own
// inherits its nearest ancestor's.
type DebugMetadata struct {
	StartLineNumber int
	EndLineNumber   int
	StartCharacter  int
	EndCharacter    int
	FileName        string
	SourceName      string
}

// Merge combines two metadata spans into their union, keeping the
// earlier start and later end.
func (dm *DebugMetadata) Merge(other *DebugMetadata) *DebugMetadata {
	out := &DebugMetadata{FileName: dm.FileName, SourceName: dm.SourceName}
	switch {
	case dm.StartLineNumber < other.StartLineNumber:
		out.StartLineNumber, out.StartCharacter = dm.StartLineNumber, dm.StartCharacter
	case dm.StartLineNumber > other.StartLineNumber:
		out.StartLineNumber, out.StartCharacter = other.StartLineNumber, other.StartCharacter
	default:
		out.StartLineNumber = dm.StartLineNumber
		out.StartCharacter = min(dm.StartCharacter, other.StartCharacter)
	}
	switch {
	case dm.EndLineNumber > other.EndLineNumber:
		out.EndLineNumber, out.EndCharacter = dm.EndLineNumber, dm.EndCharacter
	case dm.EndLineNumber < other.EndLineNumber:
		out.EndLineNumber, out.EndCharacter = other.EndLineNumber, other.EndCharacter
	default:
		out.EndLineNumber = dm.EndLineNumber
		out.EndCharacter = max(dm.EndCharacter, other.EndCharacter)
	}
	return out
}

// Object is the sum type every runtime-tree node implements: leaf
// values, control nodes, and containers. Dynamic dispatch in the step
// loop is a type switch over this interface.
type Object interface {
	// Base returns the shared bookkeeping every node carries: parent
	// link, own debug metadata, and a memoized path.
	Base() *ObjectBase
}

// ObjectBase is embedded in every concrete Object implementation.
type ObjectBase struct {
	Parent Object
	Debug  *DebugMetadata
	path   *Path
}

func (b *ObjectBase) Base() *ObjectBase { return b }

// DebugMetadataOf walks up to the nearest ancestor carrying metadata.
func DebugMetadataOf(o Object) *DebugMetadata {
	for o != nil {
		b := o.Base()
		if b.Debug != nil {
			return b.Debug
		}
		o = b.Parent
	}
	return nil
}

// PathOf computes (and memoizes) the absolute path to o by walking
// parents, using named-content keys where available and positional
// indices otherwise.
func PathOf(o Object) *Path {
	b := o.Base()
	if b.path != nil {
		return b.path
	}
	if b.Parent == nil {
		b.path = &Path{}
		return b.path
	}
	var comps []PathComponent
	child := o
	container, _ := b.Parent.(*Container)
	for container != nil {
		if name, ok := namedChildName(child); ok && name != "" {
			comps = append([]PathComponent{{Index: -1, Name: name}}, comps...)
		} else {
			comps = append([]PathComponent{{Index: container.indexOf(child)}}, comps...)
		}
		child = container
		parentBase := container.Base()
		container, _ = parentBase.Parent.(*Container)
	}
	b.path = NewPath(comps, false)
	return b.path
}

// namedChildName reports the name a container used to register child,
// if child is itself a Container with a name.
func namedChildName(child Object) (string, bool) {
	if c, ok := child.(*Container); ok && c.Name != "" {
		return c.Name, true
	}
	return "", false
}
