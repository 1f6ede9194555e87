package ink

import (
	"strings"
)

const (
	InkSaveStateVersion   = 10
	MinCompatibleSaveVersion = 8
	DefaultFlowName       = "DEFAULT_FLOW"
)

// StoryState is the active flow plus the evaluation stack, diverted
// pointer, RNG seed, visit/turn counters, and error buffers: the
// complete mutable state of a running Story.
type StoryState struct {
	story *Story

	currentFlow   *Flow
	namedFlows    map[string]*Flow

	variablesState *VariablesState

	visitCounts map[*Container]int
	turnIndices map[*Container]int
	currentTurnIndex int

	storySeed     int
	previousRandom int

	evaluationStack []Object
	divertedPointer Pointer

	currentErrors   []string
	currentWarnings []string

	didSafeExit bool

	inExpressionEvaluationCount int

	outputStreamTextDirty bool
	outputStreamTagsDirty bool
	cachedText            string
	cachedTags            []string

	patch *StatePatch
}

func NewStoryState(story *Story) *StoryState {
	ss := &StoryState{
		story:      story,
		namedFlows: map[string]*Flow{},
		visitCounts: map[*Container]int{},
		turnIndices: map[*Container]int{},
		currentTurnIndex: -1,
		divertedPointer: NullPointer(),
	}
	ss.currentFlow = NewFlow(DefaultFlowName, StartOfContainer(story.mainContentContainer))
	ss.variablesState = NewVariablesState(ss.currentFlow.CallStack, story.listDefinitions)
	ss.storySeed = NewPRNG(1).Next() % 100
	ss.GoToStart()
	return ss
}

func (s *StoryState) GoToStart() {
	s.currentFlow.CallStack.CurrentElement().CurrentPointer = StartOfContainer(s.story.mainContentContainer)
}

func (s *StoryState) VariablesState() *VariablesState { return s.variablesState }
func (s *StoryState) CallStack() *CallStack            { return s.currentFlow.CallStack }
func (s *StoryState) OutputStream() []Object           { return s.currentFlow.OutputStream }
func (s *StoryState) CurrentChoices() []*Choice {
	if s.CanContinue() {
		return nil
	}
	return s.currentFlow.CurrentChoices
}
func (s *StoryState) GeneratedChoices() []*Choice { return s.currentFlow.CurrentChoices }
func (s *StoryState) SetGeneratedChoices(c []*Choice) { s.currentFlow.CurrentChoices = c }
func (s *StoryState) AppendChoice(c *Choice) { s.currentFlow.CurrentChoices = append(s.currentFlow.CurrentChoices, c) }

func (s *StoryState) EvaluationStack() []Object { return s.evaluationStack }
func (s *StoryState) SetEvaluationStack(o []Object) { s.evaluationStack = o }

func (s *StoryState) CurrentTurnIndex() int     { return s.currentTurnIndex }
func (s *StoryState) StorySeed() int            { return s.storySeed }
func (s *StoryState) SetStorySeed(v int)        { s.storySeed = v }
func (s *StoryState) PreviousRandom() int       { return s.previousRandom }
func (s *StoryState) SetPreviousRandom(v int)   { s.previousRandom = v }

func (s *StoryState) DidSafeExit() bool     { return s.didSafeExit }
func (s *StoryState) SetDidSafeExit(v bool) { s.didSafeExit = v }

func (s *StoryState) HasError() bool   { return len(s.currentErrors) > 0 }
func (s *StoryState) HasWarning() bool { return len(s.currentWarnings) > 0 }
func (s *StoryState) CurrentErrors() []string   { return s.currentErrors }
func (s *StoryState) CurrentWarnings() []string { return s.currentWarnings }
func (s *StoryState) ResetErrors() { s.currentErrors, s.currentWarnings = nil, nil }

func (s *StoryState) AddError(message string, isWarning bool) {
	if isWarning {
		s.currentWarnings = append(s.currentWarnings, message)
	} else {
		s.currentErrors = append(s.currentErrors, message)
	}
}

func (s *StoryState) CurrentPointer() Pointer {
	return s.CallStack().CurrentElement().CurrentPointer
}
func (s *StoryState) SetCurrentPointer(p Pointer) {
	s.CallStack().CurrentElement().CurrentPointer = p
}

func (s *StoryState) PreviousPointer() Pointer { return s.currentFlow.CallStack.CurrentThread().PreviousPointer }
func (s *StoryState) SetPreviousPointer(p Pointer) {
	s.currentFlow.CallStack.CurrentThread().PreviousPointer = p
}

func (s *StoryState) CanContinue() bool { return !s.CurrentPointer().IsNull() && !s.HasError() }

func (s *StoryState) InExpressionEvaluation() bool { return s.inExpressionEvaluationCount > 0 }
func (s *StoryState) SetInExpressionEvaluation(v bool) {
	if v {
		s.inExpressionEvaluationCount = 1
	} else {
		s.inExpressionEvaluationCount = 0
	}
}

func (s *StoryState) DivertedPointer() Pointer      { return s.divertedPointer }
func (s *StoryState) SetDivertedPointer(p Pointer)  { s.divertedPointer = p }

func (s *StoryState) CurrentFlowName() string { return s.currentFlow.Name }
func (s *StoryState) CurrentFlowIsDefault() bool { return s.currentFlow.Name == DefaultFlowName }

func (s *StoryState) AliveFlowNames() []string {
	var names []string
	for name := range s.namedFlows {
		if name != DefaultFlowName {
			names = append(names, name)
		}
	}
	return names
}

// --- visit/turn counters ---

func (s *StoryState) VisitCountForContainer(c *Container) int {
	if !c.VisitsShouldBeCounted {
		s.AddError("Read count for target ("+c.Name+" - on "+PathOf(c).String()+") unknown.", true)
		return 0
	}
	if s.patch != nil {
		if v, ok := s.patch.TryGetVisitCount(c); ok {
			return v
		}
	}
	return s.visitCounts[c]
}

func (s *StoryState) IncrementVisitCountForContainer(c *Container) {
	if s.patch != nil {
		cur := s.VisitCountForContainer(c)
		s.patch.SetVisitCount(c, cur+1)
		return
	}
	s.visitCounts[c]++
}

func (s *StoryState) RecordTurnIndexVisitToContainer(c *Container) {
	if s.patch != nil {
		s.patch.SetTurnIndex(c, s.currentTurnIndex)
		return
	}
	s.turnIndices[c] = s.currentTurnIndex
}

func (s *StoryState) TurnsSinceForContainer(c *Container) int {
	if !c.TurnIndexShouldBeCounted {
		s.AddError("TURNS_SINCE() for target ("+PathOf(c).String()+") unknown.", true)
		return -1
	}
	if s.patch != nil {
		if v, ok := s.patch.TryGetTurnIndex(c); ok {
			return s.currentTurnIndex - v
		}
	}
	if v, ok := s.turnIndices[c]; ok {
		return s.currentTurnIndex - v
	}
	return -1
}

func (s *StoryState) ApplyCountChanges(c *Container, newCount int, isVisit bool) {
	if isVisit {
		s.visitCounts[c] = newCount
	} else {
		s.turnIndices[c] = newCount
	}
}

// --- evaluation stack ---

func (s *StoryState) PushEvaluationStack(o Object) {
	if lv, ok := o.(*ListValue); ok {
		s.reresolveListOrigins(lv)
	}
	s.evaluationStack = append(s.evaluationStack, o)
}

func (s *StoryState) reresolveListOrigins(lv *ListValue) {
	if lv.Val == nil || s.story.listDefinitions == nil {
		return
	}
	var origins []*ListDefinition
	for _, name := range lv.Val.OriginNames() {
		if def, ok := s.story.listDefinitions.TryGetDefinition(name); ok {
			origins = append(origins, def)
		}
	}
	if len(origins) > 0 {
		lv.Val.origins = origins
	}
}

func (s *StoryState) PopEvaluationStack() Object {
	if len(s.evaluationStack) == 0 {
		return nil
	}
	v := s.evaluationStack[len(s.evaluationStack)-1]
	s.evaluationStack = s.evaluationStack[:len(s.evaluationStack)-1]
	return v
}

// PopEvaluationStackValue pops and asserts the result is a Value (as
// opposed to a Void); callers that can't sensibly operate on Void use
// this to surface a clear error instead of a panic.
func (s *StoryState) PopEvaluationStackValue() (Value, error) {
	o := s.PopEvaluationStack()
	if o == nil {
		return nil, &StoryError{Message: "evaluation stack is empty"}
	}
	v, ok := o.(Value)
	if !ok {
		return nil, &StoryError{Message: "unexpected Void used as an operand"}
	}
	return v, nil
}

func (s *StoryState) PeekEvaluationStack() Object {
	if len(s.evaluationStack) == 0 {
		return nil
	}
	return s.evaluationStack[len(s.evaluationStack)-1]
}

func (s *StoryState) PopEvaluationStackN(n int) []Object {
	if n > len(s.evaluationStack) {
		n = len(s.evaluationStack)
	}
	out := append([]Object(nil), s.evaluationStack[len(s.evaluationStack)-n:]...)
	s.evaluationStack = s.evaluationStack[:len(s.evaluationStack)-n]
	return out
}

// --- output stream / whitespace & glue ---

func (s *StoryState) ResetOutput() {
	s.currentFlow.OutputStream = nil
	s.OutputStreamDirty()
}

func (s *StoryState) OutputStreamDirty() {
	s.outputStreamTextDirty = true
	s.outputStreamTagsDirty = true
}

func (s *StoryState) PushToOutputStream(o Object) {
	if sv, ok := o.(*StringValue); ok {
		if parts := trySplitHeadTailWhitespace(sv.Val); parts != nil {
			for _, part := range parts {
				s.pushToOutputStreamIndividual(NewStringValue(part))
			}
			s.OutputStreamDirty()
			return
		}
	}
	s.pushToOutputStreamIndividual(o)
	s.OutputStreamDirty()
}

// trySplitHeadTailWhitespace splits a string into its leading
// whitespace, the inner text, and its trailing whitespace, with each
// whitespace run further split into separate space and newline parts —
// so glue trimming operates at word/line boundaries instead of
// mid-run. Returns nil if there is nothing to split (no
// leading/trailing run).
func trySplitHeadTailWhitespace(s string) []string {
	trimmed := strings.Trim(s, " \t\n")
	if trimmed == s {
		return nil
	}
	if trimmed == "" {
		// entirely whitespace: split into spaces/newlines preserving order
		var parts []string
		run := strings.Builder{}
		flushKind := byte(0)
		for i := 0; i < len(s); i++ {
			c := s[i]
			kind := byte('s')
			if c == '\n' {
				kind = 'n'
			}
			if run.Len() > 0 && kind != flushKind {
				parts = append(parts, run.String())
				run.Reset()
			}
			flushKind = kind
			run.WriteByte(c)
		}
		if run.Len() > 0 {
			parts = append(parts, run.String())
		}
		if len(parts) <= 1 {
			return nil
		}
		return parts
	}

	leadEnd := strings.IndexByte(s, trimmed[0])
	lead := s[:leadEnd]
	tail := s[leadEnd+len(trimmed):]

	var parts []string
	if lead != "" {
		parts = append(parts, splitRuns(lead)...)
	}
	parts = append(parts, trimmed)
	if tail != "" {
		parts = append(parts, splitRuns(tail)...)
	}
	if len(parts) <= 1 {
		return nil
	}
	return parts
}

func splitRuns(s string) []string {
	var out []string
	run := strings.Builder{}
	flushKind := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		kind := byte('s')
		if c == '\n' {
			kind = 'n'
		}
		if run.Len() > 0 && kind != flushKind {
			out = append(out, run.String())
			run.Reset()
		}
		flushKind = kind
		run.WriteByte(c)
	}
	if run.Len() > 0 {
		out = append(out, run.String())
	}
	return out
}

func (s *StoryState) pushToOutputStreamIndividual(o Object) {
	stream := s.currentFlow.OutputStream

	if _, isGlue := o.(*Glue); isGlue {
		s.trimNewlinesFromOutputStream()
		s.currentFlow.OutputStream = append(s.currentFlow.OutputStream, o)
		return
	}

	sv, isText := o.(*StringValue)

	functionTrimIndex := -1
	if cs := s.CallStack(); cs.CurrentElement().Type == PushPopFunction {
		fs := cs.CurrentElement().FunctionStartInOutputStream
		if fs >= 0 {
			functionTrimIndex = fs
		}
	}
	glueTrimIndex := -1
	for i := len(stream) - 1; i >= 0; i-- {
		curr := stream[i]
		if _, ok := curr.(*Glue); ok {
			glueTrimIndex = i
			break
		}
		if cc, ok := curr.(*ControlCommand); ok && cc.Command == CmdBeginString {
			if i >= functionTrimIndex {
				glueTrimIndex = -1
			}
			break
		}
	}

	trimIndex := -1
	if glueTrimIndex != -1 && functionTrimIndex != -1 {
		trimIndex = min(glueTrimIndex, functionTrimIndex)
	} else if glueTrimIndex != -1 {
		trimIndex = glueTrimIndex
	} else if functionTrimIndex != -1 {
		trimIndex = functionTrimIndex
	}

	if trimIndex != -1 {
		if isText && sv.IsNewline() {
			return
		}
		if isText && sv.IsNonWhitespace() {
			if trimIndex < len(stream) {
				s.currentFlow.OutputStream = append(stream[:trimIndex:trimIndex], stream[trimIndex:]...)
				s.removeExistingGlue()
			}
			for i := s.CallStack().CurrentElementIndex(); i >= 0; i-- {
				el := s.CallStack().ElementAtIndex(i)
				if el.Type == PushPopFunction {
					el.FunctionStartInOutputStream = -1
				} else {
					break
				}
			}
		}
	} else if isText && sv.IsNewline() {
		if s.outputStreamEndsInNewline() || !s.outputStreamContainsContent() {
			return
		}
	}

	s.currentFlow.OutputStream = append(s.currentFlow.OutputStream, o)
}

func (s *StoryState) trimNewlinesFromOutputStream() {
	stream := s.currentFlow.OutputStream
	removeWhitespaceFrom := -1
	i := len(stream) - 1
	for i >= 0 {
		cur := stream[i]
		if cc, ok := cur.(*ControlCommand); ok {
			if cc.Command == CmdBeginString {
				break
			}
		}
		if sv, ok := cur.(*StringValue); ok {
			if sv.IsNonWhitespace() {
				break
			}
			if sv.IsNewline() || sv.IsInlineWhitespace() {
				removeWhitespaceFrom = i
			}
		}
		i--
	}
	if removeWhitespaceFrom >= 0 {
		out := stream[:removeWhitespaceFrom]
		s.currentFlow.OutputStream = append([]Object(nil), out...)
	}
}

func (s *StoryState) removeExistingGlue() {
	stream := s.currentFlow.OutputStream
	for i := len(stream) - 1; i >= 0; i-- {
		if _, ok := stream[i].(*Glue); ok {
			stream = append(stream[:i], stream[i+1:]...)
		} else if _, ok := stream[i].(*ControlCommand); ok {
			break
		}
	}
	s.currentFlow.OutputStream = stream
}

func (s *StoryState) outputStreamEndsInNewline() bool {
	stream := s.currentFlow.OutputStream
	for i := len(stream) - 1; i >= 0; i-- {
		if cc, ok := stream[i].(*ControlCommand); ok {
			_ = cc
			return false
		}
		if sv, ok := stream[i].(*StringValue); ok {
			if sv.IsNewline() {
				return true
			}
			if sv.IsNonWhitespace() {
				return false
			}
			continue
		}
		return false
	}
	return false
}

func (s *StoryState) outputStreamContainsContent() bool {
	for _, o := range s.currentFlow.OutputStream {
		if _, ok := o.(*StringValue); ok {
			return true
		}
	}
	return false
}

func (s *StoryState) InStringEvaluation() bool {
	stream := s.currentFlow.OutputStream
	for i := len(stream) - 1; i >= 0; i-- {
		if cc, ok := stream[i].(*ControlCommand); ok {
			if cc.Command == CmdBeginString {
				return true
			}
			if cc.Command == CmdEndString {
				return false
			}
		}
	}
	return false
}

func (s *StoryState) PopFromOutputStream(n int) {
	stream := s.currentFlow.OutputStream
	if n > len(stream) {
		n = len(stream)
	}
	s.currentFlow.OutputStream = stream[:len(stream)-n]
	s.OutputStreamDirty()
}

// --- text / tags ---

// CleanOutputWhitespace collapses runs of inline whitespace to a
// single space, except at line starts (preserves "\n" and any leading
// whitespace immediately after it).
func CleanOutputWhitespace(text string) string {
	var sb strings.Builder
	atLineStart := true
	pendingSpace := false
	for _, r := range text {
		if r == '\n' {
			sb.WriteByte('\n')
			atLineStart = true
			pendingSpace = false
			continue
		}
		if r == ' ' || r == '\t' {
			if atLineStart {
				sb.WriteRune(r)
			} else {
				pendingSpace = true
			}
			continue
		}
		if pendingSpace {
			sb.WriteByte(' ')
			pendingSpace = false
		}
		atLineStart = false
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *StoryState) CurrentText() string {
	if s.outputStreamTextDirty {
		var sb strings.Builder
		inTag := false
		for _, o := range s.currentFlow.OutputStream {
			if cc, ok := o.(*ControlCommand); ok {
				if cc.Command == CmdBeginTag {
					inTag = true
				} else if cc.Command == CmdEndTag {
					inTag = false
				}
				continue
			}
			if inTag {
				continue
			}
			if sv, ok := o.(*StringValue); ok {
				sb.WriteString(sv.Val)
			}
		}
		s.cachedText = CleanOutputWhitespace(sb.String())
		s.outputStreamTextDirty = false
	}
	return s.cachedText
}

func (s *StoryState) CurrentTags() []string {
	if s.outputStreamTagsDirty {
		var tags []string
		var sb strings.Builder
		inTag := false
		for _, o := range s.currentFlow.OutputStream {
			if cc, ok := o.(*ControlCommand); ok {
				if cc.Command == CmdBeginTag {
					inTag = true
					sb.Reset()
				} else if cc.Command == CmdEndTag {
					if inTag {
						txt := CleanOutputWhitespace(sb.String())
						if txt != "" {
							tags = append(tags, txt)
						}
					}
					inTag = false
				}
				continue
			}
			if inTag {
				if sv, ok := o.(*StringValue); ok {
					sb.WriteString(sv.Val)
				}
				continue
			}
			if tag, ok := o.(*Tag); ok {
				tags = append(tags, CleanOutputWhitespace(tag.Text))
			}
		}
		s.cachedTags = tags
		s.outputStreamTagsDirty = false
	}
	return s.cachedTags
}

// --- force end / snapshots ---

func (s *StoryState) ForceEnd() {
	s.currentFlow.CallStack.Reset()
	s.currentFlow.CurrentChoices = nil
	s.SetCurrentPointer(NullPointer())
	s.SetPreviousPointer(NullPointer())
	s.didSafeExit = true
}

// CopyAndStartPatching returns a shallow-copied StoryState wrapping a
// fresh StatePatch (copied from any currently active one); the
// variablesState object is shared but repointed to the copy's call
// stack and patch, matching the reference engine's background-save
// mechanism.
func (s *StoryState) CopyAndStartPatching(forBackgroundSave bool) *StoryState {
	cp := &StoryState{
		story:            s.story,
		namedFlows:       s.namedFlows,
		currentTurnIndex: s.currentTurnIndex,
		storySeed:        s.storySeed,
		previousRandom:   s.previousRandom,
		didSafeExit:      s.didSafeExit,
		divertedPointer:  s.divertedPointer,
		visitCounts:      s.visitCounts,
		turnIndices:      s.turnIndices,
		currentErrors:    append([]string(nil), s.currentErrors...),
		currentWarnings:  append([]string(nil), s.currentWarnings...),
		patch:            NewStatePatch(s.patch),
	}
	cp.currentFlow = &Flow{Name: s.currentFlow.Name, CallStack: s.currentFlow.CallStack.Copy()}
	if forBackgroundSave {
		for _, c := range s.currentFlow.CurrentChoices {
			cp.currentFlow.CurrentChoices = append(cp.currentFlow.CurrentChoices, c.Clone())
		}
	} else {
		cp.currentFlow.CurrentChoices = s.currentFlow.CurrentChoices
	}
	cp.currentFlow.OutputStream = append([]Object(nil), s.currentFlow.OutputStream...)
	cp.evaluationStack = append([]Object(nil), s.evaluationStack...)
	cp.OutputStreamDirty()

	cp.variablesState = s.variablesState
	cp.variablesState.SetCallStack(cp.currentFlow.CallStack)
	cp.variablesState.SetPatch(cp.patch)
	return cp
}

func (s *StoryState) RestoreAfterPatch() {
	s.variablesState.SetCallStack(s.currentFlow.CallStack)
	s.variablesState.SetPatch(s.patch)
}

func (s *StoryState) ApplyAnyPatch() {
	if s.patch == nil {
		return
	}
	s.variablesState.ApplyPatch()
	for c, v := range s.patch.VisitCounts() {
		s.ApplyCountChanges(c, v, true)
	}
	for c, v := range s.patch.TurnIndices() {
		s.ApplyCountChanges(c, v, false)
	}
	s.patch = nil
}

func (s *StoryState) Patch() *StatePatch { return s.patch }

// --- call stack pop / function helpers ---

func (s *StoryState) PopCallStack() {
	if s.CallStack().CurrentElement().Type == PushPopFunction {
		s.trimWhitespaceFromFunctionEnd()
	}
	s.CallStack().Pop()
}

func (s *StoryState) trimWhitespaceFromFunctionEnd() {
	el := s.CallStack().CurrentElement()
	if el.FunctionStartInOutputStream < 0 {
		return
	}
	stream := s.currentFlow.OutputStream
	i := len(stream) - 1
	for i >= el.FunctionStartInOutputStream {
		sv, ok := stream[i].(*StringValue)
		if !ok || sv.IsNonWhitespace() {
			break
		}
		i--
	}
	s.currentFlow.OutputStream = stream[:i+1]
	s.OutputStreamDirty()
}

// --- choosing ---

func (s *StoryState) SetChosenPath(path *Path, incrementingTurnIndex bool) {
	s.currentFlow.CurrentChoices = nil
	newPointer := s.story.PointerAtPath(path)
	if !newPointer.IsNull() && newPointer.Index == -1 {
		if c, ok := newPointer.Resolve().(*Container); ok && len(c.Content) > 0 {
			newPointer.Index = 0
		}
	}
	s.SetCurrentPointer(newPointer)
	if incrementingTurnIndex {
		s.currentTurnIndex++
	}
}

// --- named flows ---

func (s *StoryState) SwitchFlowInternal(name string) {
	if s.currentFlow.Name == name {
		return
	}
	if _, ok := s.namedFlows[s.currentFlow.Name]; !ok {
		s.namedFlows[s.currentFlow.Name] = s.currentFlow
	}
	flow, ok := s.namedFlows[name]
	if !ok {
		flow = NewFlow(name, StartOfContainer(s.story.mainContentContainer))
		s.namedFlows[name] = flow
	}
	s.variablesState.SetCallStack(flow.CallStack)
	s.currentFlow = flow
}

func (s *StoryState) SwitchToDefaultFlowInternal() {
	if _, ok := s.namedFlows[DefaultFlowName]; !ok {
		s.SwitchFlowInternal(DefaultFlowName)
		return
	}
	s.namedFlows[s.currentFlow.Name] = s.currentFlow
	s.currentFlow = s.namedFlows[DefaultFlowName]
	s.variablesState.SetCallStack(s.currentFlow.CallStack)
}

func (s *StoryState) RemoveFlowInternal(name string) error {
	if name == DefaultFlowName {
		return &StoryError{Message: "Cannot destroy default flow"}
	}
	if s.currentFlow.Name == name {
		s.SwitchToDefaultFlowInternal()
	}
	delete(s.namedFlows, name)
	return nil
}

func (s *StoryState) CurrentFlow() *Flow { return s.currentFlow }
func (s *StoryState) NamedFlows() map[string]*Flow { return s.namedFlows }
func (s *StoryState) SetNamedFlows(m map[string]*Flow) { s.namedFlows = m }
func (s *StoryState) SetCurrentFlow(f *Flow) { s.currentFlow = f }

func (s *StoryState) VisitCounts() map[*Container]int { return s.visitCounts }
func (s *StoryState) TurnIndices() map[*Container]int { return s.turnIndices }
func (s *StoryState) SetCurrentTurnIndex(n int) { s.currentTurnIndex = n }

// Snapshot makes a fully independent deep copy of the state, used by
// the single-step continue loop to peek one step past a newline
// (glue arriving on the next step can retroactively cancel it) without
// committing to that step until it's known whether to keep it.
func (s *StoryState) Snapshot() *StoryState {
	cp := &StoryState{
		story:            s.story,
		currentTurnIndex: s.currentTurnIndex,
		storySeed:        s.storySeed,
		previousRandom:   s.previousRandom,
		didSafeExit:      s.didSafeExit,
		divertedPointer:  s.divertedPointer,
		currentErrors:    append([]string(nil), s.currentErrors...),
		currentWarnings:  append([]string(nil), s.currentWarnings...),
	}
	cp.namedFlows = make(map[string]*Flow, len(s.namedFlows))
	for name, f := range s.namedFlows {
		if f == s.currentFlow {
			continue
		}
		cp.namedFlows[name] = f.Copy()
	}
	cp.currentFlow = s.currentFlow.Copy()
	if _, ok := s.namedFlows[s.currentFlow.Name]; ok {
		cp.namedFlows[s.currentFlow.Name] = cp.currentFlow
	}

	cp.visitCounts = make(map[*Container]int, len(s.visitCounts))
	for k, v := range s.visitCounts {
		cp.visitCounts[k] = v
	}
	cp.turnIndices = make(map[*Container]int, len(s.turnIndices))
	for k, v := range s.turnIndices {
		cp.turnIndices[k] = v
	}
	cp.evaluationStack = append([]Object(nil), s.evaluationStack...)

	cp.variablesState = &VariablesState{
		callStack:      cp.currentFlow.CallStack,
		listDefs:       s.variablesState.listDefs,
		defaultGlobals: s.variablesState.defaultGlobals,
		observers:      s.variablesState.observers,
		globals:        make(map[string]Value, len(s.variablesState.globals)),
		batchObserving: s.variablesState.batchObserving,
	}
	for k, v := range s.variablesState.globals {
		cp.variablesState.globals[k] = v
	}
	if s.variablesState.changedDuringBatch != nil {
		cp.variablesState.changedDuringBatch = make(map[string]bool, len(s.variablesState.changedDuringBatch))
		for k := range s.variablesState.changedDuringBatch {
			cp.variablesState.changedDuringBatch[k] = true
		}
	}
	if s.patch != nil {
		cp.patch = NewStatePatch(s.patch)
		cp.variablesState.patch = cp.patch
	}
	cp.OutputStreamDirty()
	return cp
}
