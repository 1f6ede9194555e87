package ink

// VariablesState is the global variable map plus a once-captured
// default-global snapshot, a reference to the owning call stack (for
// temporaries), and an optional copy-on-write patch.
type VariablesState struct {
	callStack      *CallStack
	patch          *StatePatch
	globals        map[string]Value
	defaultGlobals map[string]Value
	listDefs       *ListDefinitionsOrigin

	observers map[string][]func(name string, value Value)

	batchObserving       bool
	changedDuringBatch    map[string]bool
}

func NewVariablesState(cs *CallStack, listDefs *ListDefinitionsOrigin) *VariablesState {
	return &VariablesState{
		callStack: cs,
		globals:   map[string]Value{},
		listDefs:  listDefs,
		observers: map[string][]func(string, Value){},
	}
}

func (vs *VariablesState) CallStack() *CallStack     { return vs.callStack }
func (vs *VariablesState) SetCallStack(cs *CallStack) { vs.callStack = cs }
func (vs *VariablesState) Patch() *StatePatch          { return vs.patch }
func (vs *VariablesState) SetPatch(p *StatePatch)      { vs.patch = p }
func (vs *VariablesState) Globals() map[string]Value   { return vs.globals }

// ObserveVariable registers a callback fired (after batching, at the
// end of the outermost Continue) whenever name's value changes.
func (vs *VariablesState) ObserveVariable(name string, cb func(name string, value Value)) {
	vs.observers[name] = append(vs.observers[name], cb)
}

// Get reads a global by name, consulting the patch first.
func (vs *VariablesState) Get(name string) Value {
	if vs.patch != nil {
		if v, ok := vs.patch.TryGetGlobal(name); ok {
			return v
		}
	}
	if v, ok := vs.globals[name]; ok {
		return v
	}
	if v, ok := vs.defaultGlobals[name]; ok {
		return v
	}
	return nil
}

// Set assigns a pre-declared global; the name must already exist in
// the default-global snapshot.
func (vs *VariablesState) Set(name string, value Value) error {
	if _, ok := vs.defaultGlobals[name]; !ok {
		return &StoryError{Message: "Cannot assign to undeclared variable: " + name}
	}
	vs.SetGlobal(name, value)
	return nil
}

// GetVariableWithName resolves a read at contextIndex, following a
// VariablePointerValue to its eventual target.
func (vs *VariablesState) GetVariableWithName(name string, contextIndex int) Value {
	v := vs.GetRawVariableWithName(name, contextIndex)
	if vp, ok := v.(*VariablePointerValue); ok {
		return vs.ValueAtVariablePointer(vp)
	}
	return v
}

func (vs *VariablesState) ValueAtVariablePointer(vp *VariablePointerValue) Value {
	return vs.GetVariableWithName(vp.VariableName, vp.ContextIndex)
}

func (vs *VariablesState) GetRawVariableWithName(name string, contextIndex int) Value {
	if contextIndex == 0 || contextIndex == -1 {
		if vs.patch != nil {
			if v, ok := vs.patch.TryGetGlobal(name); ok {
				return v
			}
		}
		if v, ok := vs.globals[name]; ok {
			return v
		}
		if v, ok := vs.defaultGlobals[name]; ok {
			return v
		}
		if vs.listDefs != nil {
			if lv, ok := vs.listDefs.FindSingleItemListWithName(name); ok {
				return lv
			}
		}
		return nil
	}
	v, _ := vs.callStack.GetTemporaryVariableWithName(name, contextIndex)
	return v
}

// Assign resolves a pointer chain and writes through to the ultimate
// destination: a fresh `VAR x = ...`/`temp x = ...` declares locally;
// otherwise an existing VariablePointerValue at the name is followed
// (possibly across frames) before the write lands.
func (vs *VariablesState) Assign(varName string, isNewDeclaration, isGlobal bool, value Value) error {
	contextIndex := -1
	setGlobal := isGlobal

	if isNewDeclaration {
		if vp, ok := value.(*VariablePointerValue); ok {
			value = vs.ResolveVariablePointer(vp)
		}
	} else {
		for {
			existing := vs.GetRawVariableWithName(varName, contextIndex)
			vp, ok := existing.(*VariablePointerValue)
			if !ok {
				break
			}
			varName = vp.VariableName
			contextIndex = vp.ContextIndex
			setGlobal = contextIndex == 0
		}
	}

	if setGlobal {
		vs.SetGlobal(varName, value)
		return nil
	}
	return vs.callStack.SetTemporaryVariable(varName, value, isNewDeclaration, contextIndex)
}

func (vs *VariablesState) ResolveVariablePointer(vp *VariablePointerValue) Value {
	ci := vp.ContextIndex
	if ci == -1 {
		ci = vs.GetContextIndexOfVariableNamed(vp.VariableName)
	}
	raw := vs.GetRawVariableWithName(vp.VariableName, ci)
	if other, ok := raw.(*VariablePointerValue); ok {
		return other
	}
	return &VariablePointerValue{VariableName: vp.VariableName, ContextIndex: ci}
}

func (vs *VariablesState) GetContextIndexOfVariableNamed(name string) int {
	return vs.callStack.ContextForVariableNamed(name)
}

// SetGlobal writes a global through the patch if one is active,
// retaining list origins and batching/firing the change observer.
func (vs *VariablesState) SetGlobal(name string, value Value) {
	var oldValue Value
	if vs.patch != nil {
		oldValue, _ = vs.patch.TryGetGlobal(name)
	}
	if oldValue == nil {
		oldValue = vs.globals[name]
	}
	RetainListOriginsForAssignment(oldValue, value)

	if vs.patch != nil {
		vs.patch.SetGlobal(name, value)
	} else {
		vs.globals[name] = value
	}

	changed := oldValue == nil || oldValue.ValueObject() != value.ValueObject()
	if !changed {
		return
	}
	if vs.batchObserving {
		if vs.patch != nil {
			vs.patch.AddChangedVariable(name)
		} else {
			vs.changedDuringBatch[name] = true
		}
	} else {
		vs.notify(name, value)
	}
}

func (vs *VariablesState) notify(name string, value Value) {
	for _, cb := range vs.observers[name] {
		cb(name, value)
	}
}

// SnapshotDefaultGlobals is called once after the initial "global
// decl" container runs, to fix the baseline used to elide defaults on
// save.
func (vs *VariablesState) SnapshotDefaultGlobals() {
	vs.defaultGlobals = make(map[string]Value, len(vs.globals))
	for k, v := range vs.globals {
		vs.defaultGlobals[k] = v
	}
}

func (vs *VariablesState) StartVariableObservation() {
	vs.batchObserving = true
	vs.changedDuringBatch = map[string]bool{}
}

// CompleteVariableObservation returns the set of variable names
// changed during the batch (merging in any patch-level changes) and
// turns batching off.
func (vs *VariablesState) CompleteVariableObservation() []string {
	names := map[string]bool{}
	for n := range vs.changedDuringBatch {
		names[n] = true
	}
	if vs.patch != nil {
		for n := range vs.patch.ChangedVariables() {
			names[n] = true
		}
	}
	vs.batchObserving = false
	vs.changedDuringBatch = nil
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	return out
}

// NotifyObservers fires observers for each named variable using its
// current value, called by Story once the outermost Continue returns.
func (vs *VariablesState) NotifyObservers(names []string) {
	for _, n := range names {
		vs.notify(n, vs.Get(n))
	}
}

// ApplyPatch merges a patched VariablesState's globals back into the
// base map and clears the patch.
func (vs *VariablesState) ApplyPatch() {
	if vs.patch == nil {
		return
	}
	for k, v := range vs.patch.Globals() {
		vs.globals[k] = v
	}
	if vs.batchObserving {
		for k := range vs.patch.ChangedVariables() {
			vs.changedDuringBatch[k] = true
		}
	}
	vs.patch = nil
}
