package ink

// StatePatch is a copy-on-write overlay over globals and visit/turn
// counts so a background save can serialize a stable base state while
// the live state keeps mutating through its own patch.
type StatePatch struct {
	globals          map[string]Value
	changedVariables map[string]bool
	visitCounts      map[*Container]int
	turnIndices      map[*Container]int
}

func NewStatePatch(toCopy *StatePatch) *StatePatch {
	p := &StatePatch{
		globals:          map[string]Value{},
		changedVariables: map[string]bool{},
		visitCounts:      map[*Container]int{},
		turnIndices:      map[*Container]int{},
	}
	if toCopy != nil {
		for k, v := range toCopy.globals {
			p.globals[k] = v
		}
		for k := range toCopy.changedVariables {
			p.changedVariables[k] = true
		}
		for k, v := range toCopy.visitCounts {
			p.visitCounts[k] = v
		}
		for k, v := range toCopy.turnIndices {
			p.turnIndices[k] = v
		}
	}
	return p
}

func (p *StatePatch) TryGetGlobal(name string) (Value, bool) { v, ok := p.globals[name]; return v, ok }
func (p *StatePatch) SetGlobal(name string, v Value)          { p.globals[name] = v }
func (p *StatePatch) AddChangedVariable(name string)          { p.changedVariables[name] = true }
func (p *StatePatch) ChangedVariables() map[string]bool        { return p.changedVariables }
func (p *StatePatch) Globals() map[string]Value               { return p.globals }

func (p *StatePatch) TryGetVisitCount(c *Container) (int, bool) { v, ok := p.visitCounts[c]; return v, ok }
func (p *StatePatch) SetVisitCount(c *Container, n int)          { p.visitCounts[c] = n }
func (p *StatePatch) VisitCounts() map[*Container]int           { return p.visitCounts }

func (p *StatePatch) TryGetTurnIndex(c *Container) (int, bool) { v, ok := p.turnIndices[c]; return v, ok }
func (p *StatePatch) SetTurnIndex(c *Container, n int)          { p.turnIndices[c] = n }
func (p *StatePatch) TurnIndices() map[*Container]int           { return p.turnIndices }
