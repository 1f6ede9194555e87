package ink

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType ranks the value kinds for coercion: native function calls
// coerce mixed-type operands toward the higher ordinal here.
type ValueType int

const (
	ValueBool ValueType = iota - 1
	ValueInt
	ValueFloat
	ValueList
	ValueString
	ValueDivertTarget
	ValueVariablePointer
)

// Value is the sum type for leaf payloads: bool, int, float, string,
// list, divert-target-as-path, and variable-pointer-by-name.
type Value interface {
	Object
	Type() ValueType
	IsTruthy() bool
	ValueObject() any
	Cast(ValueType) (Value, error)
	String() string
}

// BadCastError reports an attempt to cast a Value to an incompatible type.
type BadCastError struct {
	From, To ValueType
	Val      any
}

func (e *BadCastError) Error() string {
	return fmt.Sprintf("can't cast %v (%v) to %v", e.Val, e.From, e.To)
}

// NewValue infers the concrete Value wrapper for a Go-native payload:
// bool, int64/int, float64, string, *Path (divert target), or *InkList.
func NewValue(v any) Value {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return &BoolValue{Val: x}
	case int:
		return &IntValue{Val: x}
	case int64:
		return &IntValue{Val: int(x)}
	case float64:
		if x == float64(int(x)) {
			return &FloatValue{Val: x}
		}
		return &FloatValue{Val: x}
	case float32:
		return &FloatValue{Val: float64(x)}
	case string:
		return &StringValue{Val: x}
	case *Path:
		return &DivertTargetValue{TargetPath: x}
	case *InkList:
		return &ListValue{Val: x}
	default:
		return nil
	}
}

// --- BoolValue ---

type BoolValue struct {
	ObjectBase
	Val bool
}

func (v *BoolValue) Type() ValueType  { return ValueBool }
func (v *BoolValue) IsTruthy() bool   { return v.Val }
func (v *BoolValue) ValueObject() any { return v.Val }
func (v *BoolValue) String() string {
	if v.Val {
		return "true"
	}
	return "false"
}
func (v *BoolValue) Cast(t ValueType) (Value, error) {
	switch t {
	case ValueBool:
		return v, nil
	case ValueInt:
		if v.Val {
			return &IntValue{Val: 1}, nil
		}
		return &IntValue{Val: 0}, nil
	case ValueFloat:
		if v.Val {
			return &FloatValue{Val: 1}, nil
		}
		return &FloatValue{Val: 0}, nil
	case ValueString:
		return &StringValue{Val: v.String()}, nil
	}
	return nil, &BadCastError{From: v.Type(), To: t, Val: v.Val}
}

// --- IntValue ---

type IntValue struct {
	ObjectBase
	Val int
}

func (v *IntValue) Type() ValueType  { return ValueInt }
func (v *IntValue) IsTruthy() bool   { return v.Val != 0 }
func (v *IntValue) ValueObject() any { return v.Val }
func (v *IntValue) String() string   { return strconv.Itoa(v.Val) }
func (v *IntValue) Cast(t ValueType) (Value, error) {
	switch t {
	case ValueInt:
		return v, nil
	case ValueBool:
		return &BoolValue{Val: v.Val != 0}, nil
	case ValueFloat:
		return &FloatValue{Val: float64(v.Val)}, nil
	case ValueString:
		return &StringValue{Val: v.String()}, nil
	}
	return nil, &BadCastError{From: v.Type(), To: t, Val: v.Val}
}

// --- FloatValue ---

type FloatValue struct {
	ObjectBase
	Val float64
}

func (v *FloatValue) Type() ValueType  { return ValueFloat }
func (v *FloatValue) IsTruthy() bool   { return v.Val != 0 }
func (v *FloatValue) ValueObject() any { return v.Val }

// String prints integer-valued floats without a decimal point (as the
// reference engine does) and otherwise the canonical IEEE-754 double
// shortest round-trip representation.
func (v *FloatValue) String() string {
	if v.Val == float64(int64(v.Val)) {
		return strconv.FormatInt(int64(v.Val), 10)
	}
	return strconv.FormatFloat(v.Val, 'g', -1, 64)
}
func (v *FloatValue) Cast(t ValueType) (Value, error) {
	switch t {
	case ValueFloat:
		return v, nil
	case ValueBool:
		return &BoolValue{Val: v.Val != 0}, nil
	case ValueInt:
		return &IntValue{Val: int(v.Val)}, nil
	case ValueString:
		return &StringValue{Val: v.String()}, nil
	}
	return nil, &BadCastError{From: v.Type(), To: t, Val: v.Val}
}

// --- StringValue ---

type StringValue struct {
	ObjectBase
	Val                string
	isNewline          bool
	isInlineWhitespace bool
	computed           bool
}

func NewStringValue(s string) *StringValue {
	sv := &StringValue{Val: s}
	sv.computeFlags()
	return sv
}

func (v *StringValue) computeFlags() {
	v.isNewline = v.Val == "\n"
	v.isInlineWhitespace = true
	for _, r := range v.Val {
		if r != ' ' && r != '\t' {
			v.isInlineWhitespace = false
			break
		}
	}
	v.computed = true
}

func (v *StringValue) IsNewline() bool {
	if !v.computed {
		v.computeFlags()
	}
	return v.isNewline
}

func (v *StringValue) IsInlineWhitespace() bool {
	if !v.computed {
		v.computeFlags()
	}
	return v.isInlineWhitespace
}

// IsNonWhitespace reports whether the string has any non-whitespace content.
func (v *StringValue) IsNonWhitespace() bool { return !v.IsInlineWhitespace() && !v.IsNewline() }

func (v *StringValue) Type() ValueType  { return ValueString }
func (v *StringValue) IsTruthy() bool   { return len(v.Val) > 0 }
func (v *StringValue) ValueObject() any { return v.Val }
func (v *StringValue) String() string   { return v.Val }
func (v *StringValue) Cast(t ValueType) (Value, error) {
	switch t {
	case ValueString:
		return v, nil
	case ValueInt:
		n, err := strconv.Atoi(strings.TrimSpace(v.Val))
		if err != nil {
			return nil, &BadCastError{From: v.Type(), To: t, Val: v.Val}
		}
		return &IntValue{Val: n}, nil
	case ValueFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Val), 64)
		if err != nil {
			return nil, &BadCastError{From: v.Type(), To: t, Val: v.Val}
		}
		return &FloatValue{Val: f}, nil
	}
	return nil, &BadCastError{From: v.Type(), To: t, Val: v.Val}
}

// --- DivertTargetValue ---

type DivertTargetValue struct {
	ObjectBase
	TargetPath *Path
}

func (v *DivertTargetValue) Type() ValueType  { return ValueDivertTarget }
func (v *DivertTargetValue) IsTruthy() bool   { panic("shouldn't be checking the truthiness of a divert target") }
func (v *DivertTargetValue) ValueObject() any { return v.TargetPath }
func (v *DivertTargetValue) String() string   { return "-> " + v.TargetPath.String() }
func (v *DivertTargetValue) Cast(t ValueType) (Value, error) {
	if t == ValueDivertTarget {
		return v, nil
	}
	return nil, &BadCastError{From: v.Type(), To: t, Val: v.TargetPath.String()}
}

// --- VariablePointerValue ---

type VariablePointerValue struct {
	ObjectBase
	VariableName string
	ContextIndex int
}

func NewVariablePointerValue(name string) *VariablePointerValue {
	return &VariablePointerValue{VariableName: name, ContextIndex: -1}
}

func (v *VariablePointerValue) Type() ValueType  { return ValueVariablePointer }
func (v *VariablePointerValue) IsTruthy() bool   { panic("shouldn't be checking the truthiness of a variable pointer") }
func (v *VariablePointerValue) ValueObject() any { return v.VariableName }
func (v *VariablePointerValue) String() string   { return "var(" + v.VariableName + ")" }
func (v *VariablePointerValue) Cast(t ValueType) (Value, error) {
	if t == ValueVariablePointer {
		return v, nil
	}
	return nil, &BadCastError{From: v.Type(), To: t, Val: v.VariableName}
}

// --- ListValue ---

type ListValue struct {
	ObjectBase
	Val *InkList
}

func NewListValueSingle(item InkListItem, value int) *ListValue {
	return &ListValue{Val: NewInkListFromSingle(item, value)}
}

func (v *ListValue) Type() ValueType  { return ValueList }
func (v *ListValue) IsTruthy() bool   { return v.Val != nil && v.Val.Count() > 0 }
func (v *ListValue) ValueObject() any { return v.Val }
func (v *ListValue) String() string   { return v.Val.String() }
func (v *ListValue) Cast(t ValueType) (Value, error) {
	switch t {
	case ValueList:
		return v, nil
	case ValueInt:
		if mi, ok := v.Val.MaxItem(); ok {
			return &IntValue{Val: mi.Value}, nil
		}
		return &IntValue{Val: 0}, nil
	case ValueFloat:
		if mi, ok := v.Val.MaxItem(); ok {
			return &FloatValue{Val: float64(mi.Value)}, nil
		}
		return &FloatValue{Val: 0}, nil
	case ValueString:
		if mi, ok := v.Val.MaxItem(); ok {
			return &StringValue{Val: mi.Item.FullName()}, nil
		}
		return &StringValue{Val: ""}, nil
	}
	return nil, &BadCastError{From: v.Type(), To: t, Val: v.Val}
}

// RetainListOriginsForAssignment copies oldValue's list origin names
// onto newValue when newValue is an empty list — so reassigning a list
// variable to `[]` keeps it usable with its original LIST_ALL/LIST_INVERT.
func RetainListOriginsForAssignment(oldValue, newValue Value) {
	oldList, ok := oldValue.(*ListValue)
	if !ok {
		return
	}
	newList, ok := newValue.(*ListValue)
	if !ok {
		return
	}
	if newList.Val.Count() == 0 && len(oldList.Val.OriginNames()) > 0 {
		newList.Val.SetInitialOriginNames(oldList.Val.OriginNames())
	}
}
