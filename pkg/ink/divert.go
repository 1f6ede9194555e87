package ink

// PushPopType distinguishes the three kinds of call-stack frame.
type PushPopType int

const (
	PushPopTunnel PushPopType = iota
	PushPopFunction
	PushPopFunctionEvaluationFromGame
)

// Divert is an unconditional jump to a target path, optionally pushing
// a call-stack frame (tunnel/function) or calling an external function.
type Divert struct {
	ObjectBase

	TargetPathString   string
	VariableDivertName string
	PushesToStack      bool
	StackPushType       PushPopType
	IsExternal          bool
	ExternalArgs        int
	IsConditional       bool

	targetPointer *Pointer
}

func (d *Divert) HasVariableTarget() bool { return d.VariableDivertName != "" }

// TargetPath parses TargetPathString lazily.
func (d *Divert) TargetPath() *Path {
	if d.TargetPathString == "" {
		return nil
	}
	return ParsePath(d.TargetPathString)
}

// Equals compares by variable-target name (for variable diverts) or by
// target path otherwise.
func (d *Divert) Equals(o *Divert) bool {
	if d.HasVariableTarget() || o.HasVariableTarget() {
		return d.VariableDivertName == o.VariableDivertName
	}
	return d.TargetPath().Equals(o.TargetPath())
}
