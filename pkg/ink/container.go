package ink

// CountFlag bits describe what a Container tracks about its visits.
type CountFlag int

const (
	CountFlagVisits         CountFlag = 1
	CountFlagTurns          CountFlag = 2
	CountFlagCountStartOnly CountFlag = 4
)

// Container is an ordered list of child nodes plus a keyed map of
// named children (a subset of Content, or content that exists only by
// name with no positional slot). Every node has at most one parent;
// the root container is owned by the Story.
type Container struct {
	ObjectBase
	Name                    string
	Content                 []Object
	NamedOnly               map[string]Object
	VisitsShouldBeCounted   bool
	TurnIndexShouldBeCounted bool
	CountingAtStartOnly     bool
}

// AddContent appends a child, wiring its parent link.
func (c *Container) AddContent(o Object) {
	o.Base().Parent = c
	c.Content = append(c.Content, o)
	if named, ok := o.(*Container); ok && named.Name != "" {
		c.addNamedContent(named.Name, named)
	}
}

func (c *Container) addNamedContent(name string, o Object) {
	if c.NamedOnly == nil {
		c.NamedOnly = map[string]Object{}
	}
	c.NamedOnly[name] = o
}

// SetNamedOnlyContent installs children that exist only by name (no
// positional slot in Content), wiring their parent links.
func (c *Container) SetNamedOnlyContent(m map[string]Object) {
	c.NamedOnly = m
	for name, o := range m {
		o.Base().Parent = c
		if sub, ok := o.(*Container); ok && sub.Name == "" {
			sub.Name = name
		}
	}
}

func (c *Container) indexOf(child Object) int {
	for i, o := range c.Content {
		if o == child {
			return i
		}
	}
	return -1
}

// CountFlags packs the three counting booleans into the bitmask used
// by the JSON codec; "start only" alone never carries meaning, so it
// collapses to zero when visits/turns aren't also being counted.
func (c *Container) CountFlags() int {
	flags := 0
	if c.VisitsShouldBeCounted {
		flags |= int(CountFlagVisits)
	}
	if c.TurnIndexShouldBeCounted {
		flags |= int(CountFlagTurns)
	}
	if c.CountingAtStartOnly {
		flags |= int(CountFlagCountStartOnly)
	}
	if flags == int(CountFlagCountStartOnly) {
		flags = 0
	}
	return flags
}

// SetCountFlags unpacks the bitmask written by the JSON codec.
func (c *Container) SetCountFlags(flags int) {
	c.VisitsShouldBeCounted = flags&int(CountFlagVisits) != 0
	c.TurnIndexShouldBeCounted = flags&int(CountFlagTurns) != 0
	c.CountingAtStartOnly = flags&int(CountFlagCountStartOnly) != 0
}

// PathToFirstLeafContent walks first-children while they're themselves
// containers, returning the path to the first leaf.
func (c *Container) PathToFirstLeafContent() *Path {
	var comps []PathComponent
	cur := Object(c)
	for {
		cc, ok := cur.(*Container)
		if !ok || len(cc.Content) == 0 {
			break
		}
		comps = append(comps, PathComponent{Index: 0})
		cur = cc.Content[0]
	}
	return &Path{components: comps, isRelative: true}
}

// SearchResult is the outcome of ContentAtPath: the deepest object
// reached, and whether it's only an approximation of the requested
// path (a component was missing, or an intermediate step resolved to
// a non-container).
type SearchResult struct {
	Obj         Object
	Approximate bool
}

func (r SearchResult) Correct() Object {
	if r.Approximate {
		return nil
	}
	return r.Obj
}

func (r SearchResult) Container() *Container {
	if c, ok := r.Obj.(*Container); ok {
		return c
	}
	return nil
}

// ContentAtPath walks path from partialPathStart to partialPathLength
// (or the full length if negative), returning the deepest object
// found even on a partial match so stale-save lookups can still
// recover something, flagged Approximate.
func (c *Container) ContentAtPath(path *Path, partialPathStart, partialPathLength int) SearchResult {
	if partialPathLength < 0 {
		partialPathLength = path.Length()
	}
	approximate := false
	var current Object = c
	currentContainer := c

	for i := partialPathStart; i < partialPathLength; i++ {
		comp, _ := path.Component(i)
		if currentContainer == nil {
			approximate = true
			break
		}
		next := currentContainer.contentWithPathComponent(comp)
		if next == nil {
			approximate = true
			break
		}
		current = next
		currentContainer, _ = next.(*Container)
		if currentContainer == nil && i < partialPathLength-1 {
			approximate = true
		}
	}
	return SearchResult{Obj: current, Approximate: approximate}
}

func (c *Container) contentWithPathComponent(comp PathComponent) Object {
	if comp.IsIndex() {
		if comp.Index < 0 || comp.Index >= len(c.Content) {
			return nil
		}
		return c.Content[comp.Index]
	}
	if comp.IsParent() {
		return c.Parent
	}
	if c.NamedOnly != nil {
		if o, ok := c.NamedOnly[comp.Name]; ok {
			return o
		}
	}
	return nil
}
