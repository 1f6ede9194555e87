package ink

// Flow is one named top-level execution context: a call stack, an
// output stream, the currently-generated choices, and (after a save
// round-trip) any threads captured by a choice whose generating
// thread is no longer live.
type Flow struct {
	Name            string
	CallStack       *CallStack
	OutputStream    []Object
	CurrentChoices  []*Choice
	ChoiceThreads   map[int]*Thread
}

func NewFlow(name string, rootPointer Pointer) *Flow {
	return &Flow{Name: name, CallStack: NewCallStack(rootPointer)}
}

func (f *Flow) Copy() *Flow {
	cp := &Flow{Name: f.Name, CallStack: f.CallStack.Copy()}
	cp.OutputStream = append([]Object(nil), f.OutputStream...)
	cp.CurrentChoices = append([]*Choice(nil), f.CurrentChoices...)
	return cp
}
