package ink

// Element is one call-stack frame: a pointer, its frame type, and a
// private temporary-variable scope.
type Element struct {
	CurrentPointer              Pointer
	InExpressionEvaluation      bool
	Temporaries                 map[string]Value
	Type                        PushPopType
	EvaluationStackHeightWhenPushed int
	FunctionStartInOutputStream int
}

func NewElement(t PushPopType, p Pointer, inExpr bool) *Element {
	return &Element{CurrentPointer: p, Type: t, InExpressionEvaluation: inExpr, Temporaries: map[string]Value{}, FunctionStartInOutputStream: -1}
}

func (e *Element) Copy() *Element {
	cp := *e
	cp.Temporaries = make(map[string]Value, len(e.Temporaries))
	for k, v := range e.Temporaries {
		cp.Temporaries[k] = v
	}
	return &cp
}

// Thread is a cloned call stack: a story-level continuation. Choosing
// a choice generated inside a thread restores that thread as current.
type Thread struct {
	Callstack       []*Element
	ThreadIndex     int
	PreviousPointer Pointer
}

func (t *Thread) Copy() *Thread {
	cp := &Thread{ThreadIndex: t.ThreadIndex, PreviousPointer: t.PreviousPointer}
	cp.Callstack = make([]*Element, len(t.Callstack))
	for i, e := range t.Callstack {
		cp.Callstack[i] = e.Copy()
	}
	return cp
}

// CallStack owns an ordered stack of threads; most operations address
// the topmost thread.
type CallStack struct {
	threads       []*Thread
	threadCounter int
	startOfRoot   Pointer
}

func NewCallStack(rootPointer Pointer) *CallStack {
	cs := &CallStack{startOfRoot: rootPointer}
	cs.Reset()
	return cs
}

func (cs *CallStack) Reset() {
	cs.threads = []*Thread{{ThreadIndex: 0, Callstack: []*Element{NewElement(PushPopTunnel, cs.startOfRoot, false)}}}
	cs.threadCounter = 0
}

func (cs *CallStack) Copy() *CallStack {
	cp := &CallStack{threadCounter: cs.threadCounter, startOfRoot: cs.startOfRoot}
	for _, t := range cs.threads {
		cp.threads = append(cp.threads, t.Copy())
	}
	return cp
}

func (cs *CallStack) CurrentThread() *Thread { return cs.threads[len(cs.threads)-1] }

func (cs *CallStack) CallStackElements() []*Element { return cs.CurrentThread().Callstack }

func (cs *CallStack) CurrentElement() *Element {
	stack := cs.CallStackElements()
	return stack[len(stack)-1]
}

func (cs *CallStack) CurrentElementIndex() int { return len(cs.CallStackElements()) - 1 }

func (cs *CallStack) Depth() int { return len(cs.CallStackElements()) }

func (cs *CallStack) ElementAtIndex(i int) *Element { return cs.CallStackElements()[i] }

func (cs *CallStack) PushThread() {
	cs.ForkThread()
}

// ForkThread clones the current thread with a fresh thread index.
func (cs *CallStack) ForkThread() *Thread {
	cs.threadCounter++
	newThread := cs.CurrentThread().Copy()
	newThread.ThreadIndex = cs.threadCounter
	cs.threads = append(cs.threads, newThread)
	return newThread
}

func (cs *CallStack) CanPopThread() bool {
	return len(cs.threads) > 1 && !cs.ElementIsEvaluateFromGame()
}

func (cs *CallStack) PopThread() {
	cs.threads = cs.threads[:len(cs.threads)-1]
}

func (cs *CallStack) ElementIsEvaluateFromGame() bool {
	return cs.CurrentElement().Type == PushPopFunctionEvaluationFromGame
}

func (cs *CallStack) Push(t PushPopType, externalEvalStackHeight, outputStreamLengthWithPushed int) {
	el := NewElement(t, cs.CurrentElement().CurrentPointer, false)
	el.EvaluationStackHeightWhenPushed = externalEvalStackHeight
	if t == PushPopFunction {
		el.FunctionStartInOutputStream = outputStreamLengthWithPushed
	}
	stack := cs.CallStackElements()
	cs.CurrentThread().Callstack = append(stack, el)
}

func (cs *CallStack) CanPop(t *PushPopType) bool {
	if cs.Depth() <= 1 {
		return false
	}
	if t == nil {
		return true
	}
	return cs.CurrentElement().Type == *t
}

func (cs *CallStack) Pop() {
	stack := cs.CallStackElements()
	cs.CurrentThread().Callstack = stack[:len(stack)-1]
}

// GetTemporaryVariableWithName looks up a temporary in the frame at
// contextIndex (1-based), defaulting to the current frame.
func (cs *CallStack) GetTemporaryVariableWithName(name string, contextIndex int) (Value, bool) {
	if contextIndex == -1 {
		contextIndex = cs.CurrentElementIndex() + 1
	}
	el := cs.ElementAtIndex(contextIndex - 1)
	v, ok := el.Temporaries[name]
	return v, ok
}

func (cs *CallStack) SetTemporaryVariable(name string, value Value, declareNew bool, contextIndex int) error {
	if contextIndex == -1 {
		contextIndex = cs.CurrentElementIndex() + 1
	}
	el := cs.ElementAtIndex(contextIndex - 1)
	if !declareNew {
		if _, ok := el.Temporaries[name]; !ok {
			return &StoryError{Message: "Could not find temporary variable to set: " + name}
		}
	}
	if old, ok := el.Temporaries[name]; ok {
		RetainListOriginsForAssignment(old, value)
	}
	el.Temporaries[name] = value
	return nil
}

// ContextForVariableNamed reports the context-index to use when
// resolving name: the current frame if it holds a temp of that name,
// else 0 (global scope).
func (cs *CallStack) ContextForVariableNamed(name string) int {
	if _, ok := cs.CurrentElement().Temporaries[name]; ok {
		return cs.CurrentElementIndex() + 1
	}
	return 0
}

// ThreadWithIndex finds a live thread by index, if any.
func (cs *CallStack) ThreadWithIndex(index int) *Thread {
	for _, t := range cs.threads {
		if t.ThreadIndex == index {
			return t
		}
	}
	return nil
}

func (cs *CallStack) SetCurrentThread(t *Thread) {
	cs.threads[len(cs.threads)-1] = t
}

func (cs *CallStack) ThreadCounter() int     { return cs.threadCounter }
func (cs *CallStack) SetThreadCounter(n int) { cs.threadCounter = n }
func (cs *CallStack) Threads() []*Thread     { return cs.threads }
func (cs *CallStack) SetThreads(ts []*Thread) { cs.threads = ts }
