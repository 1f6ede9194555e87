package ink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// minCompatibleInkVersion is the oldest compiled-story format this
// engine will still load; CurrentInkVersion (story.go) is the newest
// it emits. Both numbers track the reference compiler's format
// version, not this engine's own release number.
const minCompatibleInkVersion = 18

// controlCommandTokens is the fixed wire-token table for CommandType,
// positional: controlCommandTokens[int(cmd)] is cmd's JSON token.
var controlCommandTokens = [...]string{
	"ev", "out", "/ev", "du", "pop", "~ret", "->->", "str", "/str", "nop",
	"choiceCnt", "turn", "turns", "readc", "rnd", "srnd", "visit", "seq",
	"thread", "done", "end", "listInt", "range", "lrnd", "#", "/#",
}

var controlCommandByToken = buildControlCommandByToken()

func buildControlCommandByToken() map[string]CommandType {
	m := make(map[string]CommandType, len(controlCommandTokens))
	for i, t := range controlCommandTokens {
		m[t] = CommandType(i)
	}
	return m
}

// LoadStory decodes a compiled story (the JSON produced by the ink
// compiler) into a ready-to-run Story.
func LoadStory(data []byte) (*Story, error) {
	root, err := decodeJSONObject(data)
	if err != nil {
		return nil, fmt.Errorf("ink: invalid story json: %w", err)
	}

	versionTok, ok := root["inkVersion"]
	if !ok {
		return nil, fmt.Errorf("ink: ink version number not found; not a valid story file")
	}
	version := toInt(versionTok)
	if version > CurrentInkVersion {
		return nil, fmt.Errorf("ink: story was compiled with a newer format version (%d) than this engine supports (%d)", version, CurrentInkVersion)
	}
	if version < minCompatibleInkVersion {
		return nil, fmt.Errorf("ink: story format version %d predates the minimum this engine supports (%d)", version, minCompatibleInkVersion)
	}

	rootTok, ok := root["root"]
	if !ok {
		return nil, fmt.Errorf("ink: root content container not found; not a valid story file")
	}
	rootArr, ok := rootTok.([]any)
	if !ok {
		return nil, fmt.Errorf("ink: root content container is malformed")
	}
	container, err := jArrayToContainer(rootArr)
	if err != nil {
		return nil, fmt.Errorf("ink: decoding root container: %w", err)
	}

	listDefs := NewListDefinitionsOrigin(nil)
	if ldTok, ok := root["listDefs"]; ok {
		ldMap, ok := ldTok.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("ink: listDefs is malformed")
		}
		listDefs, err = listDefinitionsFromJSON(ldMap)
		if err != nil {
			return nil, err
		}
	}

	return NewStory(container, listDefs), nil
}

// ToJSON serializes the story's compiled content tree back to the
// compiled-story wire format: the inverse of LoadStory.
func (s *Story) ToJSON() ([]byte, error) {
	rootArr, err := containerToJSON(s.mainContentContainer)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"inkVersion": CurrentInkVersion,
		"root":       rootArr,
	}
	if s.listDefinitions != nil && len(s.listDefinitions.Lists()) > 0 {
		out["listDefs"] = listDefinitionsToJSON(s.listDefinitions)
	}
	return json.Marshal(out)
}

// SaveState serializes the story's full runtime state (active and
// named flows, call stacks, variables, visit/turn counts, RNG) to the
// save-game JSON format.
func (s *Story) SaveState() ([]byte, error) { return s.state.ToJSON() }

// LoadState restores runtime state previously produced by SaveState.
// The compiled content must be the same story (or only additively
// changed) for saved paths to still resolve. A saved call-stack path
// that no longer exists in full resolves to the deepest content still
// found along it, and visit/turn counts for containers that no longer
// exist are dropped; neither case is reported as an error or a warning.
func (s *Story) LoadState(data []byte) error { return s.state.LoadJSON(data) }

// --- list definitions ---

func listDefinitionsFromJSON(m map[string]any) (*ListDefinitionsOrigin, error) {
	defs := make([]*ListDefinition, 0, len(m))
	for name, v := range m {
		itemsRaw, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("ink: malformed list definition %q", name)
		}
		items := make(map[string]int, len(itemsRaw))
		for itemName, val := range itemsRaw {
			items[itemName] = toInt(val)
		}
		defs = append(defs, NewListDefinition(name, items))
	}
	return NewListDefinitionsOrigin(defs), nil
}

func listDefinitionsToJSON(origin *ListDefinitionsOrigin) map[string]any {
	out := map[string]any{}
	if origin == nil {
		return out
	}
	for _, def := range origin.Lists() {
		items := map[string]any{}
		for key, val := range def.items() {
			items[inkListItemFromKey(key).ItemName] = val
		}
		out[def.Name()] = items
	}
	return out
}

// --- runtime object <-> JSON token ---

func objectToJSON(o Object) (any, error) {
	if o == nil {
		return nil, nil
	}
	switch v := o.(type) {
	case *Container:
		return containerToJSON(v)
	case *Divert:
		return divertToJSON(v), nil
	case *ChoicePoint:
		return map[string]any{"*": v.PathStringOnChoice, "flg": v.Flags()}, nil
	case *BoolValue:
		return v.Val, nil
	case *IntValue:
		return v.Val, nil
	case *FloatValue:
		return floatToJSON(v.Val), nil
	case *StringValue:
		if v.IsNewline() {
			return "\n", nil
		}
		return "^" + v.Val, nil
	case *ListValue:
		return listValueToJSON(v), nil
	case *DivertTargetValue:
		return map[string]any{"^->": v.TargetPath.String()}, nil
	case *VariablePointerValue:
		return map[string]any{"^var": v.VariableName, "ci": v.ContextIndex}, nil
	case *Glue:
		return "<>", nil
	case *ControlCommand:
		return controlCommandTokens[int(v.Command)], nil
	case *NativeFunctionCall:
		name := v.Name
		if name == "^" {
			name = "L^"
		}
		return name, nil
	case *VariableReference:
		if v.PathForCount != nil {
			return map[string]any{"CNT?": v.PathForCount.String()}, nil
		}
		return map[string]any{"VAR?": v.Name}, nil
	case *VariableAssignment:
		m := map[string]any{}
		if v.IsGlobal {
			m["VAR="] = v.VariableName
		} else {
			m["temp="] = v.VariableName
		}
		if !v.IsNewDeclaration {
			m["re"] = true
		}
		return m, nil
	case *Tag:
		return map[string]any{"#": v.Text}, nil
	case *Choice:
		return choiceToJSON(v), nil
	case *Void:
		return "void", nil
	}
	return nil, fmt.Errorf("ink: cannot encode object of type %T to json", o)
}

func floatToJSON(f float64) any {
	switch {
	case math.IsInf(f, 1):
		return 3.4e38
	case math.IsInf(f, -1):
		return -3.4e38
	case f != f: // NaN
		return 0
	case f == math.Trunc(f):
		return json.Number(strconv.FormatFloat(f, 'f', 1, 64))
	default:
		return f
	}
}

func listValueToJSON(v *ListValue) map[string]any {
	items := map[string]any{}
	v.Val.ForEach(func(key string, value int) { items[key] = value })
	out := map[string]any{"list": items}
	if v.Val.Count() == 0 {
		if names := v.Val.OriginNames(); len(names) > 0 {
			arr := make([]any, len(names))
			for i, n := range names {
				arr[i] = n
			}
			out["origins"] = arr
		}
	}
	return out
}

func divertToJSON(d *Divert) map[string]any {
	key := "->"
	switch {
	case d.IsExternal:
		key = "x()"
	case d.PushesToStack && d.StackPushType == PushPopFunction:
		key = "f()"
	case d.PushesToStack && d.StackPushType == PushPopTunnel:
		key = "->t->"
	}
	target := d.TargetPathString
	if d.HasVariableTarget() {
		target = d.VariableDivertName
	}
	m := map[string]any{key: target}
	if d.HasVariableTarget() {
		m["var"] = true
	}
	if d.IsConditional {
		m["c"] = true
	}
	if d.IsExternal && d.ExternalArgs > 0 {
		m["exArgs"] = d.ExternalArgs
	}
	return m
}

func choiceToJSON(c *Choice) map[string]any {
	m := map[string]any{
		"text":                c.Text,
		"index":               c.Index,
		"originalChoicePath":  c.SourcePath,
		"originalThreadIndex": c.OriginalThreadIndex,
		"targetPath":          c.PathStringOnChoice,
		"isInvisibleDefault":  c.IsInvisibleDefault,
	}
	if len(c.Tags) > 0 {
		arr := make([]any, len(c.Tags))
		for i, t := range c.Tags {
			arr[i] = t
		}
		m["tags"] = arr
	}
	return m
}

func jTokenToObject(tok any) (Object, error) {
	switch t := tok.(type) {
	case nil:
		return nil, nil
	case bool:
		return &BoolValue{Val: t}, nil
	case json.Number:
		s := string(t)
		if isIntegerLiteral(s) {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("ink: bad integer literal %q: %w", s, err)
			}
			return &IntValue{Val: int(n)}, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("ink: bad float literal %q: %w", s, err)
		}
		return &FloatValue{Val: f}, nil
	case string:
		return jStringToObject(t)
	case map[string]any:
		return jObjectToObject(t)
	case []any:
		return jArrayToContainer(t)
	}
	return nil, fmt.Errorf("ink: unrecognized json token of type %T", tok)
}

func isIntegerLiteral(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '.' || c == 'e' || c == 'E' {
			return false
		}
	}
	return true
}

func jStringToObject(s string) (Object, error) {
	if s == "" {
		return nil, fmt.Errorf("ink: empty string token")
	}
	if s[0] == '^' {
		return NewStringValue(s[1:]), nil
	}
	if s == "\n" {
		return NewStringValue("\n"), nil
	}
	if s == "<>" {
		return &Glue{}, nil
	}
	if cmd, ok := controlCommandByToken[s]; ok {
		return NewControlCommand(cmd), nil
	}
	name := s
	if name == "L^" {
		name = "^"
	}
	if CallExistsWithName(name) {
		return NewNativeFunctionCall(name), nil
	}
	if s == "void" {
		return &Void{}, nil
	}
	return nil, fmt.Errorf("ink: unrecognized token %q", s)
}

func jObjectToObject(m map[string]any) (Object, error) {
	if v, ok := m["^->"]; ok {
		return &DivertTargetValue{TargetPath: ParsePath(toStr(v))}, nil
	}
	if v, ok := m["^var"]; ok {
		vp := NewVariablePointerValue(toStr(v))
		if ci, ok := m["ci"]; ok {
			vp.ContextIndex = toInt(ci)
		}
		return vp, nil
	}

	var target any
	isDivert := false
	pushesToStack := false
	pushType := PushPopFunction
	external := false
	switch {
	case valueAt(m, "->", &target):
		isDivert = true
	case valueAt(m, "f()", &target):
		isDivert, pushesToStack, pushType = true, true, PushPopFunction
	case valueAt(m, "->t->", &target):
		isDivert, pushesToStack, pushType = true, true, PushPopTunnel
	case valueAt(m, "x()", &target):
		isDivert, external = true, true
	}
	if isDivert {
		d := &Divert{PushesToStack: pushesToStack, StackPushType: pushType, IsExternal: external}
		targetStr := toStr(target)
		if _, ok := m["var"]; ok {
			d.VariableDivertName = targetStr
		} else {
			d.TargetPathString = targetStr
		}
		if c, ok := m["c"]; ok {
			d.IsConditional = toBool(c)
		}
		if external {
			if ea, ok := m["exArgs"]; ok {
				d.ExternalArgs = toInt(ea)
			}
		}
		return d, nil
	}

	if v, ok := m["*"]; ok {
		cp := NewChoicePoint()
		cp.PathStringOnChoice = toStr(v)
		if f, ok := m["flg"]; ok {
			cp.SetFlags(toInt(f))
		}
		return cp, nil
	}

	if v, ok := m["VAR?"]; ok {
		return &VariableReference{Name: toStr(v)}, nil
	}
	if v, ok := m["CNT?"]; ok {
		return &VariableReference{PathForCount: ParsePath(toStr(v))}, nil
	}

	if v, ok := m["VAR="]; ok {
		return newVariableAssignmentFromJSON(toStr(v), true, m), nil
	}
	if v, ok := m["temp="]; ok {
		return newVariableAssignmentFromJSON(toStr(v), false, m), nil
	}

	if v, ok := m["#"]; ok {
		return NewTag(toStr(v)), nil
	}

	if v, ok := m["list"]; ok {
		lm, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("ink: malformed list value")
		}
		l := NewInkList()
		if origins, ok := m["origins"]; ok {
			l.SetInitialOriginNames(toStringSlice(origins))
		}
		for key, val := range lm {
			l.Add(inkListItemFromKey(key), toInt(val))
		}
		return &ListValue{Val: l}, nil
	}

	if _, ok := m["originalChoicePath"]; ok {
		return jObjectToChoice(m), nil
	}

	return nil, fmt.Errorf("ink: unrecognized object token %v", m)
}

// valueAt reports whether key is present in m, and if so stores its
// value through out — used to keep the divert-kind dispatch above a
// single readable switch instead of a chain of if/else-if.
func valueAt(m map[string]any, key string, out *any) bool {
	v, ok := m[key]
	if ok {
		*out = v
	}
	return ok
}

func newVariableAssignmentFromJSON(name string, isGlobal bool, m map[string]any) *VariableAssignment {
	va := &VariableAssignment{VariableName: name, IsGlobal: isGlobal, IsNewDeclaration: true}
	if re, ok := m["re"]; ok && toBool(re) {
		va.IsNewDeclaration = false
	}
	return va
}

func jObjectToChoice(m map[string]any) *Choice {
	c := &Choice{}
	if v, ok := m["text"]; ok {
		c.Text = toStr(v)
	}
	if v, ok := m["index"]; ok {
		c.Index = toInt(v)
	}
	if v, ok := m["originalChoicePath"]; ok {
		c.SourcePath = toStr(v)
	}
	if v, ok := m["originalThreadIndex"]; ok {
		c.OriginalThreadIndex = toInt(v)
	}
	if v, ok := m["targetPath"]; ok {
		c.PathStringOnChoice = toStr(v)
	}
	if v, ok := m["isInvisibleDefault"]; ok {
		c.IsInvisibleDefault = toBool(v)
	}
	if v, ok := m["tags"]; ok {
		c.Tags = toStringSlice(v)
	}
	return c
}

// --- containers ---

func containerToJSON(c *Container) ([]any, error) { return containerToJSONImpl(c, false) }

func containerToJSONImpl(c *Container, withoutName bool) ([]any, error) {
	arr := make([]any, 0, len(c.Content)+1)
	for _, child := range c.Content {
		v, err := objectToJSON(child)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}

	countFlags := c.CountFlags()
	hasName := c.Name != "" && !withoutName
	hasNamed := c.NamedOnly != nil

	if hasNamed || countFlags > 0 || hasName {
		term := map[string]any{}
		for key, child := range c.NamedOnly {
			sub, ok := child.(*Container)
			if !ok {
				return nil, fmt.Errorf("ink: named content %q is not a container", key)
			}
			subArr, err := containerToJSONImpl(sub, true)
			if err != nil {
				return nil, err
			}
			term[key] = subArr
		}
		if countFlags > 0 {
			term["#f"] = countFlags
		}
		if hasName {
			term["#n"] = c.Name
		}
		arr = append(arr, term)
	} else {
		arr = append(arr, nil)
	}
	return arr, nil
}

func jArrayToContainer(arr []any) (*Container, error) {
	c := &Container{}
	n := len(arr)
	count := n
	if n > 0 {
		count = n - 1
	}
	for i := 0; i < count; i++ {
		child, err := jTokenToObject(arr[i])
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, fmt.Errorf("ink: unexpected null content in container array at index %d", i)
		}
		c.AddContent(child)
	}
	if n == 0 {
		return c, nil
	}
	tm, ok := arr[n-1].(map[string]any)
	if !ok {
		return c, nil
	}
	named := map[string]Object{}
	for key, val := range tm {
		switch key {
		case "#f":
			c.SetCountFlags(toInt(val))
		case "#n":
			c.Name = toStr(val)
		default:
			child, err := jTokenToObject(val)
			if err != nil {
				return nil, err
			}
			if sub, ok := child.(*Container); ok {
				sub.Name = key
			}
			named[key] = child
		}
	}
	c.SetNamedOnlyContent(named)
	return c, nil
}

// --- save state ---

// ToJSON serializes this StoryState to the save-game wire format.
func (s *StoryState) ToJSON() ([]byte, error) {
	m, err := s.toJSONMap()
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (s *StoryState) toJSONMap() (map[string]any, error) {
	flows := map[string]any{}
	if len(s.namedFlows) > 0 {
		for name, f := range s.namedFlows {
			fj, err := flowToJSON(f)
			if err != nil {
				return nil, err
			}
			flows[name] = fj
		}
	} else {
		fj, err := flowToJSON(s.currentFlow)
		if err != nil {
			return nil, err
		}
		flows[s.currentFlow.Name] = fj
	}

	varsJSON, err := variablesStateToJSON(s.variablesState)
	if err != nil {
		return nil, err
	}
	evalJSON, err := listRuntimeObjsToJSON(s.evaluationStack)
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"flows":            flows,
		"currentFlowName":  s.currentFlow.Name,
		"variablesState":   varsJSON,
		"evalStack":        evalJSON,
		"visitCounts":      containerCountsToJSON(s.visitCounts),
		"turnIndices":      containerCountsToJSON(s.turnIndices),
		"turnIdx":          s.currentTurnIndex,
		"storySeed":        s.storySeed,
		"previousRandom":   s.previousRandom,
		"inkSaveVersion":   InkSaveStateVersion,
		"inkFormatVersion": CurrentInkVersion,
	}
	if !s.divertedPointer.IsNull() {
		out["currentDivertTarget"] = s.divertedPointer.Path().String()
	}
	return out, nil
}

// LoadJSON restores state previously produced by ToJSON, resolving
// saved paths against this StoryState's own story.
func (s *StoryState) LoadJSON(data []byte) error {
	m, err := decodeJSONObject(data)
	if err != nil {
		return fmt.Errorf("ink: invalid save json: %w", err)
	}
	return s.loadJSONMap(m)
}

func (s *StoryState) loadJSONMap(m map[string]any) error {
	saveVersionTok, ok := m["inkSaveVersion"]
	if !ok {
		return fmt.Errorf("ink: save data has no inkSaveVersion; can't load")
	}
	if toInt(saveVersionTok) < MinCompatibleSaveVersion {
		return fmt.Errorf("ink: save data version %d predates the minimum this engine supports (%d)", toInt(saveVersionTok), MinCompatibleSaveVersion)
	}

	flowsTok, ok := m["flows"].(map[string]any)
	if !ok {
		return fmt.Errorf("ink: save data has no flows")
	}
	namedFlows := map[string]*Flow{}
	for name, ft := range flowsTok {
		fm, ok := ft.(map[string]any)
		if !ok {
			return fmt.Errorf("ink: malformed flow %q in save data", name)
		}
		flow, err := jsonToFlow(name, fm, s.story)
		if err != nil {
			return err
		}
		namedFlows[name] = flow
	}
	var currentFlow *Flow
	if len(namedFlows) == 1 {
		for _, flow := range namedFlows {
			currentFlow = flow
		}
		namedFlows = map[string]*Flow{}
	} else {
		currentFlow = namedFlows[toStr(m["currentFlowName"])]
	}
	if currentFlow == nil {
		return fmt.Errorf("ink: current flow %q not found in save data", toStr(m["currentFlowName"]))
	}
	s.namedFlows = namedFlows
	s.currentFlow = currentFlow
	s.variablesState.SetCallStack(s.currentFlow.CallStack)

	if varsTok, ok := m["variablesState"].(map[string]any); ok {
		if err := applyVariablesStateJSON(s.variablesState, varsTok); err != nil {
			return err
		}
	}

	evalTok, _ := m["evalStack"].([]any)
	evalObjs, err := jsonToListRuntimeObjs(evalTok)
	if err != nil {
		return err
	}
	s.evaluationStack = evalObjs

	if dtTok, ok := m["currentDivertTarget"]; ok {
		s.divertedPointer = s.story.PointerAtPath(ParsePath(toStr(dtTok)))
	} else {
		s.divertedPointer = NullPointer()
	}

	s.visitCounts, err = jsonToContainerCounts(m["visitCounts"], s.story)
	if err != nil {
		return err
	}
	s.turnIndices, err = jsonToContainerCounts(m["turnIndices"], s.story)
	if err != nil {
		return err
	}

	s.currentTurnIndex = toInt(m["turnIdx"])
	s.storySeed = toInt(m["storySeed"])
	s.previousRandom = toInt(m["previousRandom"])
	s.OutputStreamDirty()
	return nil
}

func containerCountsToJSON(m map[*Container]int) map[string]any {
	out := make(map[string]any, len(m))
	for c, v := range m {
		out[PathOf(c).String()] = v
	}
	return out
}

func jsonToContainerCounts(tok any, story *Story) (map[*Container]int, error) {
	out := map[*Container]int{}
	m, ok := tok.(map[string]any)
	if !ok {
		return out, nil
	}
	for pathStr, v := range m {
		result := story.contentAtPath(ParsePath(pathStr))
		if c := result.Container(); c != nil {
			out[c] = toInt(v)
		}
	}
	return out, nil
}

func listRuntimeObjsToJSON(objs []Object) ([]any, error) {
	out := make([]any, 0, len(objs))
	for _, o := range objs {
		v, err := objectToJSON(o)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func jsonToListRuntimeObjs(arr []any) ([]Object, error) {
	out := make([]Object, 0, len(arr))
	for _, tok := range arr {
		o, err := jTokenToObject(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// --- call stack / threads ---

func callStackToJSON(cs *CallStack) (map[string]any, error) {
	threadsArr := make([]any, 0, len(cs.Threads()))
	for _, t := range cs.Threads() {
		tj, err := threadToJSON(t)
		if err != nil {
			return nil, err
		}
		threadsArr = append(threadsArr, tj)
	}
	return map[string]any{
		"threads":       threadsArr,
		"threadCounter": cs.ThreadCounter(),
	}, nil
}

func threadToJSON(t *Thread) (map[string]any, error) {
	elements := make([]any, 0, len(t.Callstack))
	for _, el := range t.Callstack {
		em := map[string]any{}
		if !el.CurrentPointer.IsNull() {
			em["cPath"] = PathOf(el.CurrentPointer.Container).String()
			em["idx"] = el.CurrentPointer.Index
		}
		em["exp"] = el.InExpressionEvaluation
		em["type"] = int(el.Type)
		if len(el.Temporaries) > 0 {
			tm := map[string]any{}
			for k, v := range el.Temporaries {
				jv, err := objectToJSON(v)
				if err != nil {
					return nil, err
				}
				tm[k] = jv
			}
			em["temp"] = tm
		}
		elements = append(elements, em)
	}
	out := map[string]any{
		"callstack":   elements,
		"threadIndex": t.ThreadIndex,
	}
	if !t.PreviousPointer.IsNull() {
		if resolved := t.PreviousPointer.Resolve(); resolved != nil {
			out["previousContentObject"] = PathOf(resolved).String()
		}
	}
	return out, nil
}

func jsonToCallStack(m map[string]any, story *Story) (*CallStack, error) {
	cs := &CallStack{startOfRoot: StartOfContainer(story.mainContentContainer)}
	threadsTok, _ := m["threads"].([]any)
	for _, tt := range threadsTok {
		tm, ok := tt.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("ink: malformed thread in save data")
		}
		th, err := jsonToThread(tm, story)
		if err != nil {
			return nil, err
		}
		cs.threads = append(cs.threads, th)
	}
	cs.threadCounter = toInt(m["threadCounter"])
	return cs, nil
}

func jsonToThread(m map[string]any, story *Story) (*Thread, error) {
	th := &Thread{ThreadIndex: toInt(m["threadIndex"])}
	elemsTok, _ := m["callstack"].([]any)
	for _, et := range elemsTok {
		em, ok := et.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("ink: malformed call stack element in save data")
		}
		ptype := PushPopType(toInt(em["type"]))
		pointer := NullPointer()
		if cPathTok, ok := em["cPath"]; ok {
			cPath := toStr(cPathTok)
			result := story.contentAtPath(ParsePath(cPath))
			if result.Obj == nil {
				return nil, fmt.Errorf("ink: save data location not found: %s (has the story changed since this save was created?)", cPath)
			}
			pointer.Container = result.Container()
			pointer.Index = toInt(em["idx"])
		}
		inExpr, _ := em["exp"].(bool)
		el := NewElement(ptype, pointer, inExpr)
		if tempTok, ok := em["temp"].(map[string]any); ok {
			for k, v := range tempTok {
				obj, err := jTokenToObject(v)
				if err != nil {
					return nil, err
				}
				val, ok := obj.(Value)
				if !ok {
					return nil, fmt.Errorf("ink: temp variable %q in save data is not a value", k)
				}
				el.Temporaries[k] = val
			}
		}
		th.Callstack = append(th.Callstack, el)
	}
	if prevTok, ok := m["previousContentObject"]; ok {
		th.PreviousPointer = story.PointerAtPath(ParsePath(toStr(prevTok)))
	}
	return th, nil
}

// --- flows ---

func flowToJSON(f *Flow) (map[string]any, error) {
	csJSON, err := callStackToJSON(f.CallStack)
	if err != nil {
		return nil, err
	}
	outJSON, err := listRuntimeObjsToJSON(f.OutputStream)
	if err != nil {
		return nil, err
	}

	choiceThreads := map[string]any{}
	hasChoiceThreads := false
	for _, c := range f.CurrentChoices {
		if c.ThreadAtGeneration == nil {
			continue
		}
		c.OriginalThreadIndex = c.ThreadAtGeneration.ThreadIndex
		if f.CallStack.ThreadWithIndex(c.OriginalThreadIndex) == nil {
			hasChoiceThreads = true
			tj, err := threadToJSON(c.ThreadAtGeneration)
			if err != nil {
				return nil, err
			}
			choiceThreads[strconv.Itoa(c.OriginalThreadIndex)] = tj
		}
	}

	choicesArr := make([]any, 0, len(f.CurrentChoices))
	for _, c := range f.CurrentChoices {
		choicesArr = append(choicesArr, choiceToJSON(c))
	}

	out := map[string]any{
		"callstack":      csJSON,
		"outputStream":   outJSON,
		"currentChoices": choicesArr,
	}
	if hasChoiceThreads {
		out["choiceThreads"] = choiceThreads
	}
	return out, nil
}

func jsonToFlow(name string, m map[string]any, story *Story) (*Flow, error) {
	csTok, ok := m["callstack"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("ink: flow %q missing call stack", name)
	}
	cs, err := jsonToCallStack(csTok, story)
	if err != nil {
		return nil, err
	}
	f := &Flow{Name: name, CallStack: cs}

	outTok, _ := m["outputStream"].([]any)
	out, err := jsonToListRuntimeObjs(outTok)
	if err != nil {
		return nil, err
	}
	f.OutputStream = out

	choicesTok, _ := m["currentChoices"].([]any)
	for _, ct := range choicesTok {
		cm, ok := ct.(map[string]any)
		if !ok {
			continue
		}
		f.CurrentChoices = append(f.CurrentChoices, jObjectToChoice(cm))
	}

	choiceThreadsTok, _ := m["choiceThreads"].(map[string]any)
	for _, c := range f.CurrentChoices {
		if th := cs.ThreadWithIndex(c.OriginalThreadIndex); th != nil {
			c.ThreadAtGeneration = th
			continue
		}
		if tm, ok := choiceThreadsTok[strconv.Itoa(c.OriginalThreadIndex)].(map[string]any); ok {
			th, err := jsonToThread(tm, story)
			if err != nil {
				return nil, err
			}
			c.ThreadAtGeneration = th
		}
	}
	return f, nil
}

// --- variables state ---

func variablesStateToJSON(vs *VariablesState) (map[string]any, error) {
	out := map[string]any{}
	for name, val := range vs.globals {
		if def, ok := vs.defaultGlobals[name]; ok && runtimeValuesRoughlyEqual(val, def) {
			continue
		}
		jv, err := objectToJSON(val)
		if err != nil {
			return nil, err
		}
		out[name] = jv
	}
	return out, nil
}

// runtimeValuesRoughlyEqual is the "don't save defaults" fast path: it
// only needs to be conservative, since a false negative just means a
// value gets saved when it didn't strictly need to be.
func runtimeValuesRoughlyEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type() != b.Type() {
		return false
	}
	return a.ValueObject() == b.ValueObject()
}

func applyVariablesStateJSON(vs *VariablesState, m map[string]any) error {
	vs.globals = map[string]Value{}
	for name, def := range vs.defaultGlobals {
		tok, ok := m[name]
		if !ok {
			vs.globals[name] = def
			continue
		}
		obj, err := jTokenToObject(tok)
		if err != nil {
			return err
		}
		val, ok := obj.(Value)
		if !ok {
			return fmt.Errorf("ink: global %q in save data is not a value", name)
		}
		vs.globals[name] = val
	}
	return nil
}

// --- small json helpers ---

func decodeJSONObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func toStr(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return string(t)
	default:
		return fmt.Sprint(v)
	}
}

func toInt(v any) int {
	switch t := v.(type) {
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	case float64:
		return int(t)
	case int:
		return t
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, x := range arr {
		out = append(out, toStr(x))
	}
	return out
}
