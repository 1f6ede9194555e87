package ink

import (
	"fmt"
	"strings"
)

// CurrentInkVersion is the format version this interpreter emits and
// accepts (bounded below by minCompatibleInkVersion in jsonenc.go).
const CurrentInkVersion = 21

type externalFunctionDef struct {
	Fn            func(args []any) (any, error)
	LookaheadSafe bool
}

// Story is the loaded content tree plus the single active StoryState:
// the top-level façade for continuing, choosing, binding externals,
// and saving/loading.
type Story struct {
	mainContentContainer *Container
	listDefinitions      *ListDefinitionsOrigin
	state                *StoryState

	onError           ErrorHandler
	externalFunctions map[string]*externalFunctionDef

	allowExternalFunctionFallbacks bool

	stateSnapshotAtLastNewline          *StoryState
	sawLookaheadUnsafeFunctionAfterNewline bool
}

func NewStory(root *Container, listDefs *ListDefinitionsOrigin) *Story {
	s := &Story{
		mainContentContainer: root,
		listDefinitions:       listDefs,
		externalFunctions:     map[string]*externalFunctionDef{},
	}
	s.state = NewStoryState(s)
	s.state.VariablesState().SnapshotDefaultGlobals()
	return s
}

func (s *Story) State() *StoryState { return s.state }

func (s *Story) OnError(h ErrorHandler) { s.onError = h }

func (s *Story) ResetState() {
	s.state = NewStoryState(s)
	s.state.VariablesState().SnapshotDefaultGlobals()
}

func (s *Story) ResetErrors() { s.state.ResetErrors() }

func (s *Story) CanContinue() bool       { return s.state.CanContinue() }
func (s *Story) HasError() bool          { return s.state.HasError() }
func (s *Story) HasWarning() bool        { return s.state.HasWarning() }
func (s *Story) CurrentText() string     { return s.state.CurrentText() }
func (s *Story) CurrentTags() []string   { return s.state.CurrentTags() }
func (s *Story) CurrentChoices() []*Choice { return s.state.CurrentChoices() }
func (s *Story) CurrentErrors() []string   { return s.state.CurrentErrors() }
func (s *Story) CurrentWarnings() []string { return s.state.CurrentWarnings() }

// --- variables façade ---

func (s *Story) Variable(name string) Value { return s.state.VariablesState().Get(name) }
func (s *Story) SetVariable(name string, v Value) error { return s.state.VariablesState().Set(name, v) }
func (s *Story) ObserveVariable(name string, cb func(name string, value Value)) {
	s.state.VariablesState().ObserveVariable(name, cb)
}

// --- externals façade ---

func (s *Story) BindExternalFunction(name string, fn func(args []any) (any, error), lookaheadSafe bool) {
	s.externalFunctions[name] = &externalFunctionDef{Fn: fn, LookaheadSafe: lookaheadSafe}
}

func (s *Story) UnbindExternalFunction(name string) { delete(s.externalFunctions, name) }

func (s *Story) SetAllowExternalFunctionFallbacks(v bool) { s.allowExternalFunctionFallbacks = v }
func (s *Story) AllowExternalFunctionFallbacks() bool     { return s.allowExternalFunctionFallbacks }

// ValidateExternalBindings walks the content tree for external diverts
// and reports (as warnings, via onError) any whose name isn't bound
// and can't fall back to an ink-side function of the same name.
func (s *Story) ValidateExternalBindings() error {
	missing := map[string]bool{}
	s.walkForExternalDiverts(s.mainContentContainer, missing)
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for n := range missing {
		names = append(names, n)
	}
	msg := "Missing function binding(s) for external function(s): " + strings.Join(names, ", ")
	if !s.allowExternalFunctionFallbacks {
		return &StoryError{Message: msg}
	}
	s.Warning(msg + " (and ink fallbacks will be used, if available).")
	return nil
}

func (s *Story) walkForExternalDiverts(c *Container, missing map[string]bool) {
	for _, o := range c.Content {
		switch v := o.(type) {
		case *Divert:
			if v.IsExternal {
				if _, bound := s.externalFunctions[v.TargetPathString]; !bound {
					if !s.allowExternalFunctionFallbacks || s.contentAtPath(ParsePath(v.TargetPathString)).Container() == nil {
						missing[v.TargetPathString] = true
					}
				}
			}
		case *Container:
			s.walkForExternalDiverts(v, missing)
		}
	}
}

// --- flow façade ---

func (s *Story) CurrentFlowName() string { return s.state.CurrentFlowName() }
func (s *Story) SwitchFlow(name string)  { s.state.SwitchFlowInternal(name) }
func (s *Story) SwitchToDefaultFlow()    { s.state.SwitchToDefaultFlowInternal() }
func (s *Story) RemoveFlow(name string) error { return s.state.RemoveFlowInternal(name) }
func (s *Story) AliveFlowNames() []string { return s.state.AliveFlowNames() }

// --- path resolution ---

func (s *Story) contentAtPath(path *Path) SearchResult {
	return s.mainContentContainer.ContentAtPath(path, 0, -1)
}

// PointerAtPath resolves a path to a Pointer. A path landing on a
// container resolves to that container's own start; a path landing on
// a leaf resolves to (parent, index-in-parent).
func (s *Story) PointerAtPath(path *Path) Pointer {
	if path == nil || path.Length() == 0 {
		return StartOfContainer(s.mainContentContainer)
	}
	result := s.contentAtPath(path)
	if result.Obj == nil {
		return NullPointer()
	}
	if c, ok := result.Obj.(*Container); ok {
		return StartOfContainer(c)
	}
	if parent, ok := result.Obj.Base().Parent.(*Container); ok {
		return Pointer{Container: parent, Index: parent.indexOf(result.Obj)}
	}
	return NullPointer()
}

func (s *Story) VisitCountAtPathString(pathString string) int {
	c := s.contentAtPath(ParsePath(pathString)).Container()
	if c == nil {
		return 0
	}
	return s.state.VisitCountForContainer(c)
}

// --- error reporting ---

func (s *Story) currentPointerObject() Object {
	if o := s.state.CurrentPointer().Resolve(); o != nil {
		return o
	}
	return nil
}

func (s *Story) report(kind ErrorType, msg string) {
	dm := DebugMetadataOf(s.currentPointerObject())
	formatted := formatError(kind, msg, dm, s.state.CurrentPointer())
	switch kind {
	case ErrorTypeError:
		s.state.AddError(formatted, false)
	case ErrorTypeWarning:
		s.state.AddError(formatted, true)
	}
	if s.onError != nil {
		s.onError(formatted, kind)
	}
}

func (s *Story) Error(msg string)   { s.report(ErrorTypeError, msg) }
func (s *Story) Warning(msg string) { s.report(ErrorTypeWarning, msg) }
func (s *Story) Author(msg string)  { s.report(ErrorTypeAuthor, msg) }

func (s *Story) aggregatedError() error {
	errs := s.state.CurrentErrors()
	first := "(none)"
	if len(errs) > 0 {
		first = errs[0]
	}
	return &StoryError{Message: fmt.Sprintf("ink had %d error(s) and %d warning(s). First: %s", len(errs), len(s.state.CurrentWarnings()), first)}
}

// --- newline lookahead ---

type newlineChange int

const (
	ncNoChange newlineChange = iota
	ncNewlineRemoved
	ncExtendedBeyondNewline
)

func (s *Story) calculateNewlineChange() newlineChange {
	prevText := s.stateSnapshotAtLastNewline.CurrentText()
	prevTagCount := len(s.stateSnapshotAtLastNewline.CurrentTags())
	currText := s.state.CurrentText()
	currTagCount := len(s.state.CurrentTags())

	newlineStillExists := len(prevText) > 0 && len(currText) >= len(prevText) && currText[len(prevText)-1] == '\n'
	if !newlineStillExists {
		return ncNewlineRemoved
	}
	if currTagCount != prevTagCount {
		return ncExtendedBeyondNewline
	}
	if len(currText) > len(prevText) {
		extra := currText[len(prevText):]
		if strings.TrimSpace(extra) != "" {
			return ncExtendedBeyondNewline
		}
	}
	return ncNoChange
}

func (s *Story) restoreSnapshot() {
	s.state = s.stateSnapshotAtLastNewline
	s.stateSnapshotAtLastNewline = nil
	s.sawLookaheadUnsafeFunctionAfterNewline = false
}

// --- default invisible choices ---

func (s *Story) tryFollowDefaultInvisibleChoice() bool {
	choices := s.state.GeneratedChoices()
	if len(choices) == 0 {
		return false
	}
	for _, c := range choices {
		if !c.IsInvisibleDefault {
			return false
		}
	}
	choice := choices[0]
	s.state.CallStack().SetCurrentThread(choice.ThreadAtGeneration)
	if s.stateSnapshotAtLastNewline != nil {
		s.state.CallStack().ForkThread()
	}
	s.state.SetGeneratedChoices(nil)
	s.state.SetCurrentPointer(s.PointerAtPath(choice.TargetPath()))
	return true
}

// --- Continue ---

// Continue steps the story forward and returns the next line of text
// (the content accumulated since the previous Continue call).
func (s *Story) Continue() (string, error) {
	if !s.state.CanContinue() {
		if !s.tryFollowDefaultInvisibleChoice() {
			return "", &StoryError{Message: "Can't continue - should check CanContinue before calling Continue"}
		}
	}

	s.state.ResetOutput()
	s.state.VariablesState().StartVariableObservation()
	s.stateSnapshotAtLastNewline = nil
	s.sawLookaheadUnsafeFunctionAfterNewline = false

outer:
	for {
		for s.state.CanContinue() {
			if err := s.Step(); err != nil {
				s.Error(err.Error())
				break outer
			}
			if s.state.HasError() {
				break outer
			}
			if s.state.InStringEvaluation() {
				continue
			}

			if s.stateSnapshotAtLastNewline == nil {
				if s.state.outputStreamEndsInNewline() && s.state.CanContinue() {
					s.stateSnapshotAtLastNewline = s.state.Snapshot()
				}
				continue
			}

			switch s.calculateNewlineChange() {
			case ncNewlineRemoved:
				s.stateSnapshotAtLastNewline = nil
			case ncNoChange:
				if s.sawLookaheadUnsafeFunctionAfterNewline {
					s.restoreSnapshot()
					break outer
				}
			case ncExtendedBeyondNewline:
				s.restoreSnapshot()
				break outer
			}
		}

		if !s.state.CanContinue() && s.tryFollowDefaultInvisibleChoice() {
			continue
		}
		break
	}
	s.stateSnapshotAtLastNewline = nil

	changed := s.state.VariablesState().CompleteVariableObservation()
	s.state.VariablesState().NotifyObservers(changed)

	if s.state.HasError() && s.onError == nil {
		return s.state.CurrentText(), s.aggregatedError()
	}
	return s.state.CurrentText(), nil
}

// ContinueMaximally calls Continue repeatedly until the story can no
// longer continue (a choice point, or the end), returning every line
// concatenated.
func (s *Story) ContinueMaximally() (string, error) {
	var sb strings.Builder
	for s.state.CanContinue() {
		line, err := s.Continue()
		sb.WriteString(line)
		if err != nil {
			return sb.String(), err
		}
	}
	return sb.String(), nil
}

// --- Step ---

func (s *Story) Step() error {
	pointer := s.state.CurrentPointer()
	if pointer.IsNull() {
		return nil
	}

	for {
		c, ok := pointer.Resolve().(*Container)
		if !ok {
			break
		}
		s.visitContainer(c, true)
		if len(c.Content) == 0 {
			break
		}
		pointer = StartOfContainer(c)
	}
	s.state.SetCurrentPointer(pointer)

	currentContentObj := pointer.Resolve()
	if currentContentObj == nil {
		s.nextContent()
		return nil
	}

	diverted := false
	handled, err := s.performLogicAndFlowControl(currentContentObj, &diverted)
	if err != nil {
		return err
	}

	if !handled {
		switch v := currentContentObj.(type) {
		case *ChoicePoint:
			choice, cerr := s.processChoice(v)
			if cerr != nil {
				return cerr
			}
			if choice != nil {
				s.state.AppendChoice(choice)
			}
		case *Container:
			// descended above; nothing to do
		case Value:
			out := v
			if vp, ok := v.(*VariablePointerValue); ok && vp.ContextIndex == -1 {
				out = &VariablePointerValue{VariableName: vp.VariableName, ContextIndex: s.state.VariablesState().GetContextIndexOfVariableNamed(vp.VariableName)}
			}
			if s.state.InExpressionEvaluation() {
				s.state.PushEvaluationStack(out)
			} else {
				s.state.PushToOutputStream(out)
			}
		default:
			s.state.PushToOutputStream(currentContentObj)
		}
	}

	if !diverted {
		s.nextContent()
	}
	return nil
}

func (s *Story) visitContainer(c *Container, atStart bool) {
	if c.VisitsShouldBeCounted && (atStart || !c.CountingAtStartOnly) {
		s.state.IncrementVisitCountForContainer(c)
	}
	if c.TurnIndexShouldBeCounted {
		s.state.RecordTurnIndexVisitToContainer(c)
	}
}

// visitChangedContainersDueToDivert increments visit counts for every
// container newly entered by a jump from prevPointer to the story's
// (already-updated) current pointer, walking root-to-leaf.
func (s *Story) visitChangedContainersDueToDivert(prevPointer Pointer) {
	newPointer := s.state.CurrentPointer()
	if prevPointer.IsNull() || newPointer.IsNull() || prevPointer.Container == newPointer.Container {
		return
	}
	var chain []*Container
	for c := newPointer.Container; c != nil; {
		chain = append([]*Container{c}, chain...)
		p, _ := c.Base().Parent.(*Container)
		c = p
	}
	isAncestorOfPrev := func(c *Container) bool {
		for p := prevPointer.Container; p != nil; {
			if p == c {
				return true
			}
			p, _ = p.Base().Parent.(*Container)
		}
		return false
	}
	for _, c := range chain {
		if !isAncestorOfPrev(c) {
			s.visitContainer(c, true)
		}
	}
}

// nextContent advances the pointer linearly: increment the index,
// popping back to the parent when a container is exhausted, and
// popping call-stack frames once the root itself runs out of content.
func (s *Story) nextContent() {
	pointer := s.state.CurrentPointer()
	pointer.Index++

	for {
		if pointer.Container == nil {
			s.state.SetCurrentPointer(NullPointer())
			return
		}
		if pointer.Index < len(pointer.Container.Content) {
			s.state.SetCurrentPointer(pointer)
			return
		}
		parent, ok := pointer.Container.Base().Parent.(*Container)
		if !ok {
			if s.state.CallStack().CanPop(nil) {
				s.state.PopCallStack()
				resumed := s.state.CurrentPointer()
				resumed.Index++
				pointer = resumed
				continue
			}
			s.state.SetCurrentPointer(NullPointer())
			s.state.SetDidSafeExit(true)
			return
		}
		pointer = Pointer{Container: parent, Index: parent.indexOf(pointer.Container) + 1}
	}
}

// --- choice materialization ---

func (s *Story) processChoice(cp *ChoicePoint) (*Choice, error) {
	showChoice := true
	if cp.HasCondition {
		cond := s.state.PopEvaluationStack()
		if cond == nil || !s.isTruthy(cond) {
			showChoice = false
		}
	}

	var startText, choiceOnlyText string
	if cp.HasChoiceOnlyContent {
		if sv, ok := s.state.PopEvaluationStack().(*StringValue); ok {
			choiceOnlyText = sv.Val
		}
	}
	if cp.HasStartContent {
		if sv, ok := s.state.PopEvaluationStack().(*StringValue); ok {
			startText = sv.Val
		}
	}

	if cp.OnceOnly {
		targetContainer := s.contentAtPath(cp.PathOnChoice()).Container()
		if targetContainer != nil && s.state.VisitCountForContainer(targetContainer) > 0 {
			showChoice = false
		}
	}

	if !showChoice {
		return nil, nil
	}

	text := strings.Trim(CleanOutputWhitespace(startText+choiceOnlyText), " \t")
	choice := &Choice{
		Text:               text,
		PathStringOnChoice: cp.PathStringOnChoice,
		SourcePath:         PathOf(cp).String(),
		IsInvisibleDefault: cp.IsInvisibleDefault,
		ThreadAtGeneration: s.state.CallStack().CurrentThread().Copy(),
		OriginalThreadIndex: s.state.CallStack().CurrentThread().ThreadIndex,
	}
	return choice, nil
}

func (s *Story) isTruthy(o Object) bool {
	if v, ok := o.(Value); ok {
		return v.IsTruthy()
	}
	return false
}

// ChooseChoiceIndex selects one of the currently generated choices,
// restores its captured thread, and positions the pointer at its
// target.
func (s *Story) ChooseChoiceIndex(index int) error {
	choices := s.state.CurrentChoices()
	if index < 0 || index >= len(choices) {
		return &StoryError{Message: fmt.Sprintf("choice out of range: %d", index)}
	}
	choice := choices[index]
	s.state.VariablesState().CallStack().SetCurrentThread(choice.ThreadAtGeneration)
	s.state.SetChosenPath(choice.TargetPath(), true)
	return nil
}

// ChoosePathString diverts execution directly to path, optionally
// resetting the call stack first (the common case for jumping to a
// fresh knot outside of a choice).
func (s *Story) ChoosePathString(pathString string, resetCallstack bool, args []Value) error {
	path := ParsePath(pathString)
	if resetCallstack {
		s.state.CallStack().Reset()
	} else if cs := s.state.CallStack(); cs.CurrentElement().Type == PushPopFunction {
		for cs.CanPop(nil) && cs.CurrentElement().Type == PushPopFunction {
			cs.Pop()
		}
	}
	for _, a := range args {
		s.state.PushEvaluationStack(a)
	}
	s.state.SetChosenPath(path, false)
	return nil
}

func (s *Story) ChoosePath(path *Path, resetCallstack bool) error {
	return s.ChoosePathString(path.String(), resetCallstack, nil)
}

// --- EvaluateFunction ---

// EvaluateFunction calls an ink knot as a function from the host,
// returning its final expression value (nil if none) and, if
// wantTextOutput, any text the call printed.
func (s *Story) EvaluateFunction(funcName string, args []Value, wantTextOutput bool) (Value, string, error) {
	container := s.contentAtPath(ParsePath(funcName)).Container()
	if container == nil {
		return nil, "", &StoryError{Message: "Function doesn't exist: '" + funcName + "'"}
	}

	// Evaluate inside a forked thread so the call's own pointer and
	// frame never touch the story's ongoing callstack; popping the
	// thread afterward restores exactly the pre-call position.
	s.state.CallStack().PushThread()
	s.state.CallStack().Push(PushPopFunctionEvaluationFromGame, len(s.state.EvaluationStack()), len(s.state.OutputStream()))
	s.state.CallStack().CurrentElement().CurrentPointer = StartOfContainer(container)

	for _, a := range args {
		s.state.PushEvaluationStack(a)
	}

	s.state.ResetOutput()
	s.state.VariablesState().StartVariableObservation()

	for s.state.CanContinue() {
		if err := s.Step(); err != nil {
			s.Error(err.Error())
			break
		}
		if s.state.HasError() {
			break
		}
	}

	changed := s.state.VariablesState().CompleteVariableObservation()
	s.state.VariablesState().NotifyObservers(changed)

	var textOutput string
	if wantTextOutput {
		textOutput = s.state.CurrentText()
	}

	var returnValue Value
	if top := s.state.PopEvaluationStack(); top != nil {
		if v, ok := top.(Value); ok {
			returnValue = v
		}
	}
	s.state.CallStack().PopThread()

	if s.state.HasError() && s.onError == nil {
		return returnValue, textOutput, s.aggregatedError()
	}
	return returnValue, textOutput, nil
}

// --- logic & flow control dispatch ---

func (s *Story) performLogicAndFlowControl(obj Object, diverted *bool) (bool, error) {
	switch v := obj.(type) {
	case *Divert:
		prev := s.state.CurrentPointer()
		err := s.performDivert(v, diverted)
		if err == nil && *diverted {
			s.visitChangedContainersDueToDivert(prev)
		}
		return true, err
	case *ControlCommand:
		return true, s.performControlCommand(v, diverted)
	case *VariableAssignment:
		val, err := s.state.PopEvaluationStackValue()
		if err != nil {
			return true, err
		}
		return true, s.state.VariablesState().Assign(v.VariableName, v.IsNewDeclaration, v.IsGlobal, val)
	case *VariableReference:
		var value Value
		if v.PathForCount != nil {
			container := s.contentAtPath(v.PathForCount).Container()
			if container == nil {
				return true, &StoryError{Message: "Content at path not found: " + v.PathForCount.String()}
			}
			value = &IntValue{Val: s.state.VisitCountForContainer(container)}
		} else {
			value = s.state.VariablesState().GetVariableWithName(v.Name, -1)
			if value == nil {
				s.Warning("Variable not found: '" + v.Name + "', using default value of 0 instead.")
				value = &IntValue{Val: 0}
			}
		}
		s.state.PushEvaluationStack(value)
		return true, nil
	case *NativeFunctionCall:
		raw := s.state.PopEvaluationStackN(v.Arity())
		params := make([]Value, len(raw))
		for i, o := range raw {
			val, ok := o.(Value)
			if !ok {
				return true, &StoryError{Message: "void used as an operand to " + v.Name}
			}
			params[i] = val
		}
		result, err := Call(v.Name, params)
		if err != nil {
			return true, &StoryError{Message: err.Error()}
		}
		s.state.PushEvaluationStack(result)
		return true, nil
	}
	return false, nil
}

func (s *Story) performDivert(d *Divert, diverted *bool) error {
	if d.IsConditional {
		cond := s.state.PopEvaluationStack()
		if cond == nil || !s.isTruthy(cond) {
			return nil
		}
	}

	if d.IsExternal {
		return s.callExternalFunctionFromDivert(d, diverted)
	}

	var target Pointer
	if d.HasVariableTarget() {
		raw := s.state.VariablesState().GetVariableWithName(d.VariableDivertName, -1)
		dtv, ok := raw.(*DivertTargetValue)
		if !ok {
			return &StoryError{Message: "Tried to divert to a value that isn't a divert target: " + d.VariableDivertName}
		}
		target = s.PointerAtPath(dtv.TargetPath)
	} else {
		target = s.PointerAtPath(d.TargetPath())
	}

	if target.IsNull() {
		return &StoryError{Message: "Divert resolution failed for target " + d.TargetPathString}
	}

	if d.PushesToStack {
		s.state.CallStack().Push(d.StackPushType, len(s.state.EvaluationStack()), len(s.state.OutputStream()))
	}

	s.state.SetCurrentPointer(target)
	*diverted = true
	return nil
}

func (s *Story) callExternalFunctionFromDivert(d *Divert, diverted *bool) error {
	name := d.TargetPathString
	args := s.state.PopEvaluationStackN(d.ExternalArgs)
	for i, j := 0, len(args)-1; i < j; i, j = i+1, j-1 {
		args[i], args[j] = args[j], args[i]
	}

	def, bound := s.externalFunctions[name]
	if !bound {
		if s.allowExternalFunctionFallbacks {
			target := s.PointerAtPath(ParsePath(name))
			if target.IsNull() {
				return &StoryError{Message: "Missing function binding for external function '" + name + "', and no fallback ink function found."}
			}
			for i := len(args) - 1; i >= 0; i-- {
				s.state.PushEvaluationStack(args[i])
			}
			s.state.CallStack().Push(PushPopFunction, len(s.state.EvaluationStack())-len(args), len(s.state.OutputStream()))
			s.state.SetCurrentPointer(target)
			*diverted = true
			return nil
		}
		return &StoryError{Message: "Missing function binding for external function '" + name + "'"}
	}

	if s.state.InStringEvaluation() && !def.LookaheadSafe {
		return &StoryError{Message: "External function '" + name + "' called from within a string expression is not lookahead-safe"}
	}
	if s.stateSnapshotAtLastNewline != nil && !def.LookaheadSafe {
		s.sawLookaheadUnsafeFunctionAfterNewline = true
		s.state.PushEvaluationStack(&Void{})
		return nil
	}

	nativeArgs := make([]any, len(args))
	for i, a := range args {
		if v, ok := a.(Value); ok {
			nativeArgs[i] = v.ValueObject()
		}
	}
	result, err := def.Fn(nativeArgs)
	if err != nil {
		return &StoryError{Message: "Error calling external function '" + name + "': " + err.Error()}
	}
	if result == nil {
		s.state.PushEvaluationStack(&Void{})
		return nil
	}
	v := NewValue(result)
	if v == nil {
		return &StoryError{Message: fmt.Sprintf("Argument was %T", result)}
	}
	s.state.PushEvaluationStack(v)
	return nil
}

// --- control commands ---

func (s *Story) performControlCommand(cc *ControlCommand, diverted *bool) error {
	switch cc.Command {
	case CmdEvalStart:
		s.state.SetInExpressionEvaluation(true)
	case CmdEvalEnd:
		s.state.SetInExpressionEvaluation(false)
	case CmdEvalOutput:
		top := s.state.PopEvaluationStack()
		if top != nil {
			if _, isVoid := top.(*Void); !isVoid {
				if v, ok := top.(Value); ok {
					s.state.PushToOutputStream(NewStringValue(v.String()))
				}
			}
		}
	case CmdDuplicate:
		s.state.PushEvaluationStack(s.state.PeekEvaluationStack())
	case CmdPopEvaluatedValue:
		s.state.PopEvaluationStack()
	case CmdPopFunction, CmdPopTunnel:
		return s.performPop(cc, diverted)
	case CmdBeginString:
		s.state.PushToOutputStream(cc)
		s.state.SetInExpressionEvaluation(true)
	case CmdEndString:
		return s.performEndString()
	case CmdNoOp:
	case CmdChoiceCount:
		s.state.PushEvaluationStack(&IntValue{Val: len(s.state.GeneratedChoices())})
	case CmdTurns:
		s.state.PushEvaluationStack(&IntValue{Val: s.state.CurrentTurnIndex() + 1})
	case CmdTurnsSince, CmdReadCount:
		return s.performContainerCount(cc)
	case CmdRandom:
		return s.performRandom()
	case CmdSeedRandom:
		seedVal, err := s.state.PopEvaluationStackValue()
		if err != nil {
			return err
		}
		iv, err := seedVal.Cast(ValueInt)
		if err != nil {
			return err
		}
		s.state.SetStorySeed(iv.(*IntValue).Val)
		s.state.SetPreviousRandom(0)
		s.state.PushEvaluationStack(&Void{})
	case CmdVisitIndex:
		container := s.state.CurrentPointer().Container
		s.state.PushEvaluationStack(&IntValue{Val: s.state.VisitCountForContainer(container) - 1})
	case CmdSequenceShuffleIndex:
		return s.performSequenceShuffleIndex()
	case CmdStartThread:
		s.state.CallStack().PushThread()
	case CmdDone:
		if s.state.CallStack().CanPopThread() {
			s.state.CallStack().PopThread()
		} else {
			s.state.SetCurrentPointer(NullPointer())
			s.state.SetDidSafeExit(true)
		}
	case CmdEnd:
		s.state.ForceEnd()
	case CmdListFromInt:
		return s.performListFromInt()
	case CmdListRange:
		return s.performListRange()
	case CmdListRandom:
		return s.performListRandom()
	case CmdBeginTag:
		s.state.PushToOutputStream(cc)
	case CmdEndTag:
		s.state.PushToOutputStream(cc)
	}
	return nil
}

func (s *Story) performPop(cc *ControlCommand, diverted *bool) error {
	if s.state.CallStack().ElementIsEvaluateFromGame() {
		s.state.SetCurrentPointer(NullPointer())
		return nil
	}
	if cc.Command == CmdPopTunnel {
		if top, ok := s.state.PeekEvaluationStack().(*DivertTargetValue); ok {
			s.state.PopEvaluationStack()
			target := s.PointerAtPath(top.TargetPath)
			s.state.PopCallStack()
			if target.IsNull() {
				return &StoryError{Message: "Tunnel onwards divert resolution failed for target " + top.TargetPath.String()}
			}
			s.state.SetCurrentPointer(target)
			*diverted = true
			return nil
		}
	}
	if !s.state.CallStack().CanPop(nil) {
		return &StoryError{Message: "Found function/tunnel return, but call stack is empty"}
	}
	s.state.PopCallStack()
	return nil
}

func (s *Story) performEndString() error {
	stream := s.state.OutputStream()
	markerIdx := -1
	for i := len(stream) - 1; i >= 0; i-- {
		if cc, ok := stream[i].(*ControlCommand); ok && cc.Command == CmdBeginString {
			markerIdx = i
			break
		}
	}
	if markerIdx == -1 {
		return &StoryError{Message: "Mismatched string begin/end"}
	}
	var sb strings.Builder
	var tags []string
	inTag := false
	var tagBuf strings.Builder
	for _, o := range stream[markerIdx+1:] {
		if cc, ok := o.(*ControlCommand); ok {
			if cc.Command == CmdBeginTag {
				inTag = true
				tagBuf.Reset()
				continue
			}
			if cc.Command == CmdEndTag {
				inTag = false
				tags = append(tags, CleanOutputWhitespace(tagBuf.String()))
				continue
			}
		}
		if sv, ok := o.(*StringValue); ok {
			if inTag {
				tagBuf.WriteString(sv.Val)
			} else {
				sb.WriteString(sv.Val)
			}
		}
	}
	s.state.PopFromOutputStream(len(stream) - markerIdx)
	s.state.SetInExpressionEvaluation(true)
	s.state.PushEvaluationStack(NewStringValue(sb.String()))
	for _, t := range tags {
		s.state.PushToOutputStream(NewTag(t))
	}
	return nil
}

func (s *Story) performContainerCount(cc *ControlCommand) error {
	dtv, ok := s.state.PopEvaluationStack().(*DivertTargetValue)
	if !ok {
		return &StoryError{Message: "Expected a divert target for TURNS_SINCE/READ_COUNT"}
	}
	container := s.contentAtPath(dtv.TargetPath).Container()
	if container == nil {
		s.Warning("Content at path not found: " + dtv.TargetPath.String())
		s.state.PushEvaluationStack(&IntValue{Val: 0})
		return nil
	}
	if cc.Command == CmdReadCount {
		s.state.PushEvaluationStack(&IntValue{Val: s.state.VisitCountForContainer(container)})
	} else {
		s.state.PushEvaluationStack(&IntValue{Val: s.state.TurnsSinceForContainer(container)})
	}
	return nil
}

func (s *Story) performRandom() error {
	maxVal, err := s.state.PopEvaluationStackValue()
	if err != nil {
		return err
	}
	minVal, err := s.state.PopEvaluationStackValue()
	if err != nil {
		return err
	}
	maxIv, err := maxVal.Cast(ValueInt)
	if err != nil {
		return err
	}
	minIv, err := minVal.Cast(ValueInt)
	if err != nil {
		return err
	}
	lo, hi := minIv.(*IntValue).Val, maxIv.(*IntValue).Val
	if hi < lo {
		return &StoryError{Message: fmt.Sprintf("RANDOM was called with invalid range: min=%d, max=%d", lo, hi)}
	}
	seed := s.state.StorySeed() + s.state.PreviousRandom()
	next := NewPRNG(seed).Next()
	result := next%(hi-lo+1) + lo
	s.state.SetPreviousRandom(next)
	s.state.PushEvaluationStack(&IntValue{Val: result})
	return nil
}

// hashPathString sums character codes, matching the reference
// implementation's container-path hash exactly (needed for
// interoperability with existing save files and shuffle sequences).
func hashPathString(s string) int {
	h := 0
	for _, r := range s {
		h += int(r)
	}
	return h
}

func fisherYatesPermutation(n int, prng *PRNG) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := prng.Next() % (i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

func (s *Story) performSequenceShuffleIndex() error {
	numVal, err := s.state.PopEvaluationStackValue()
	if err != nil {
		return err
	}
	numIv, err := numVal.Cast(ValueInt)
	if err != nil {
		return err
	}
	n := numIv.(*IntValue).Val
	if n <= 0 {
		s.state.PushEvaluationStack(&IntValue{Val: 0})
		return nil
	}
	container := s.state.CurrentPointer().Container
	k := s.state.VisitCountForContainer(container)
	seed := hashPathString(PathOf(container).String()) + (k / n) + s.state.StorySeed()
	perm := fisherYatesPermutation(n, NewPRNG(seed))
	s.state.PushEvaluationStack(&IntValue{Val: perm[k%n]})
	return nil
}

func (s *Story) performListFromInt() error {
	nameVal, err := s.state.PopEvaluationStackValue()
	if err != nil {
		return err
	}
	intVal, err := s.state.PopEvaluationStackValue()
	if err != nil {
		return err
	}
	iv, err := intVal.Cast(ValueInt)
	if err != nil {
		return err
	}
	originName := nameVal.String()
	def, ok := s.listDefinitions.TryGetDefinition(originName)
	if !ok {
		s.Warning("Failed to find List called " + originName)
		s.state.PushEvaluationStack(&ListValue{Val: NewInkList()})
		return nil
	}
	list := NewInkList()
	list.origins = []*ListDefinition{def}
	if item, found := def.TryGetItemWithValue(iv.(*IntValue).Val); found {
		list.Add(item, iv.(*IntValue).Val)
	}
	s.state.PushEvaluationStack(&ListValue{Val: list})
	return nil
}

func (s *Story) performListRange() error {
	maxVal := s.state.PopEvaluationStack()
	minVal := s.state.PopEvaluationStack()
	listVal, ok := s.state.PopEvaluationStack().(*ListValue)
	if !ok {
		return &StoryError{Message: "List range expects a list operand"}
	}
	toBound := func(o Object) any {
		switch v := o.(type) {
		case *IntValue:
			return v.Val
		case *FloatValue:
			return int(v.Val)
		case *ListValue:
			return v.Val
		}
		return 0
	}
	result := listVal.Val.ListWithSubRange(toBound(minVal), toBound(maxVal))
	result.origins = listVal.Val.origins
	s.state.PushEvaluationStack(&ListValue{Val: result})
	return nil
}

func (s *Story) performListRandom() error {
	listVal, ok := s.state.PopEvaluationStack().(*ListValue)
	if !ok {
		return &StoryError{Message: "LIST_RANDOM expects a list operand"}
	}
	items := listVal.Val.OrderedItems()
	if len(items) == 0 {
		s.Warning("LIST_RANDOM was called with an empty list")
		s.state.PushEvaluationStack(&ListValue{Val: NewInkList()})
		return nil
	}
	seed := s.state.StorySeed() + s.state.PreviousRandom()
	next := NewPRNG(seed).Next()
	s.state.SetPreviousRandom(next)
	chosen := items[next%len(items)]
	out := NewInkList()
	out.origins = listVal.Val.origins
	out.Add(chosen.Item, chosen.Value)
	s.state.PushEvaluationStack(&ListValue{Val: out})
	return nil
}
