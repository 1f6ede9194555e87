package ink

import (
	"strconv"
	"strings"
)

// ParentPathComponent is the sentinel component name meaning "go up
// one container level" inside a relative path's textual form.
const ParentPathComponent = "^"

// PathComponent is one step of a Path: either a positional Index (>=0)
// or a named component. Index == -1 with Name == "" is never valid
// except as the zero value.
type PathComponent struct {
	Index int
	Name  string
}

func (c PathComponent) IsIndex() bool  { return c.Index >= 0 }
func (c PathComponent) IsParent() bool { return c.Name == ParentPathComponent }

func (c PathComponent) String() string {
	if c.IsIndex() {
		return strconv.Itoa(c.Index)
	}
	return c.Name
}

func (c PathComponent) Equals(o PathComponent) bool {
	if c.IsIndex() != o.IsIndex() {
		return false
	}
	if c.IsIndex() {
		return c.Index == o.Index
	}
	return c.Name == o.Name
}

func ToParentComponent() PathComponent { return PathComponent{Index: -1, Name: ParentPathComponent} }

// Path addresses a node in the content tree, either absolutely from
// the story root or relatively (a run of leading parent-hops followed
// by a descent).
type Path struct {
	components []PathComponent
	isRelative bool
}

// NewPath builds a Path from already-parsed components.
func NewPath(comps []PathComponent, relative bool) *Path {
	return &Path{components: comps, isRelative: relative}
}

// ParsePath parses a dotted component string such as "knot.stitch.3"
// or ".^.^.foo" (relative, two parent-hops then foo).
func ParsePath(s string) *Path {
	p := &Path{}
	if s == "" {
		return p
	}
	firstChar := s[0]
	p.isRelative = firstChar == '.'
	if p.isRelative {
		s = s[1:]
	}
	parts := strings.Split(s, ".")
	for _, part := range parts {
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			p.components = append(p.components, PathComponent{Index: n, Name: ""})
		} else {
			p.components = append(p.components, PathComponent{Index: -1, Name: part})
		}
	}
	return p
}

func (p *Path) IsRelative() bool { return p.isRelative }
func (p *Path) Length() int     { return len(p.components) }

func (p *Path) Component(i int) (PathComponent, bool) {
	if i < 0 || i >= len(p.components) {
		return PathComponent{}, false
	}
	return p.components[i], true
}

func (p *Path) LastComponent() (PathComponent, bool) {
	if len(p.components) == 0 {
		return PathComponent{}, false
	}
	return p.components[len(p.components)-1], true
}

// Tail returns the path with its first component removed, keeping the
// relative flag.
func (p *Path) Tail() *Path {
	if len(p.components) <= 1 {
		return &Path{isRelative: true}
	}
	return &Path{components: append([]PathComponent(nil), p.components[1:]...), isRelative: true}
}

func (p *Path) String() string {
	var sb strings.Builder
	if p.isRelative {
		sb.WriteByte('.')
	}
	for i, c := range p.components {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(c.String())
	}
	return sb.String()
}

func (p *Path) Equals(o *Path) bool {
	if o == nil {
		return false
	}
	if p.isRelative != o.isRelative || len(p.components) != len(o.components) {
		return false
	}
	for i := range p.components {
		if !p.components[i].Equals(o.components[i]) {
			return false
		}
	}
	return true
}

// AppendingComponent returns a new path with c appended.
func (p *Path) AppendingComponent(c PathComponent) *Path {
	out := &Path{isRelative: p.isRelative, components: append(append([]PathComponent(nil), p.components...), c)}
	return out
}

// AppendingPath resolves upward sentinels in toAppend: its leading run
// of parent-hop ("^") components pops that many components off the
// tail of p before the remainder of toAppend is appended.
func (p *Path) AppendingPath(toAppend *Path) *Path {
	upwardMoves := 0
	for i := 0; i < toAppend.Length(); i++ {
		c := toAppend.components[i]
		if c.IsParent() {
			upwardMoves++
		} else {
			break
		}
	}

	base := append([]PathComponent(nil), p.components...)
	if upwardMoves > len(base) {
		base = nil
	} else if upwardMoves > 0 {
		base = base[:len(base)-upwardMoves]
	}

	for i := upwardMoves; i < toAppend.Length(); i++ {
		base = append(base, toAppend.components[i])
	}
	return &Path{components: base, isRelative: p.isRelative}
}

func PathToFirstElement() *Path { return &Path{components: []PathComponent{{Index: 0}}} }
