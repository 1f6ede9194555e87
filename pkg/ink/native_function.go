package ink

import (
	"fmt"
	"math"
)

// Native function operator names, exactly as they appear in the JSON
// token stream (CallExistsWithName / Call below).
const (
	OpAdd           = "+"
	OpSubtract      = "-"
	OpMultiply      = "*"
	OpDivide        = "/"
	OpMod           = "%"
	OpNegate        = "_" // unary
	OpEquals        = "=="
	OpGreater       = ">"
	OpLess          = "<"
	OpGreaterEq     = ">="
	OpLessEq        = "<="
	OpNotEquals     = "!="
	OpNot           = "!"
	OpAnd           = "&&"
	OpOr            = "||"
	OpMin           = "MIN"
	OpMax           = "MAX"
	OpPow           = "POW"
	OpFloor         = "FLOOR"
	OpCeiling       = "CEILING"
	OpInt           = "INT"
	OpFloat         = "FLOAT"
	OpHas           = "?"
	OpHasnt         = "!?"
	OpIntersect     = "^"
	OpListMin       = "LIST_MIN"
	OpListMax       = "LIST_MAX"
	OpListAll       = "LIST_ALL"
	OpListCount     = "LIST_COUNT"
	OpListValue     = "LIST_VALUE"
	OpListInvert    = "LIST_INVERT"
)

var nativeArity = map[string]int{
	OpAdd: 2, OpSubtract: 2, OpMultiply: 2, OpDivide: 2, OpMod: 2, OpNegate: 1,
	OpEquals: 2, OpGreater: 2, OpLess: 2, OpGreaterEq: 2, OpLessEq: 2, OpNotEquals: 2, OpNot: 1,
	OpAnd: 2, OpOr: 2, OpMin: 2, OpMax: 2, OpPow: 2, OpFloor: 1, OpCeiling: 1, OpInt: 1, OpFloat: 1,
	OpHas: 2, OpHasnt: 2, OpIntersect: 2,
	OpListMin: 1, OpListMax: 1, OpListAll: 1, OpListCount: 1, OpListValue: 1, OpListInvert: 1,
}

// CallExistsWithName reports whether name is a known native function
// token (used by the JSON decoder to recognize bare-string operators).
func CallExistsWithName(name string) bool {
	_, ok := nativeArity[name]
	return ok
}

// NativeFunctionCall is a reference to one of the fixed native
// operators; evaluation happens in the Story via Call below.
type NativeFunctionCall struct {
	ObjectBase
	Name string
}

func NewNativeFunctionCall(name string) *NativeFunctionCall { return &NativeFunctionCall{Name: name} }

func (n *NativeFunctionCall) Arity() int { return nativeArity[n.Name] }

// Call evaluates the native operator against already-ordered params.
func Call(name string, params []Value) (Value, error) {
	if len(params) == 2 {
		if isListOperand(params[0]) || isListOperand(params[1]) {
			return callBinaryListOperation(name, params)
		}
	}
	coerced, vt, err := coerceValuesToSingleType(params)
	if err != nil {
		return nil, err
	}
	return callTyped(name, vt, coerced)
}

func isListOperand(v Value) bool { _, ok := v.(*ListValue); return ok }

func ordinalOf(v Value) ValueType { return v.Type() }

// coerceValuesToSingleType finds the highest-ordinal type among
// params and casts every param to it.
func coerceValuesToSingleType(params []Value) ([]Value, ValueType, error) {
	dest := params[0].Type()
	for _, p := range params[1:] {
		if p.Type() > dest {
			dest = p.Type()
		}
	}
	out := make([]Value, len(params))
	for i, p := range params {
		c, err := p.Cast(dest)
		if err != nil {
			return nil, 0, err
		}
		out[i] = c
	}
	return out, dest, nil
}

func callTyped(name string, vt ValueType, params []Value) (Value, error) {
	switch vt {
	case ValueBool, ValueInt:
		ints := make([]int, len(params))
		for i, p := range params {
			iv, err := p.Cast(ValueInt)
			if err != nil {
				return nil, err
			}
			ints[i] = iv.(*IntValue).Val
		}
		r, err := intOp(name, ints)
		if err != nil {
			return nil, err
		}
		return NewValue(r), nil
	case ValueFloat:
		floats := make([]float64, len(params))
		for i, p := range params {
			fv, err := p.Cast(ValueFloat)
			if err != nil {
				return nil, err
			}
			floats[i] = fv.(*FloatValue).Val
		}
		r, err := floatOp(name, floats)
		if err != nil {
			return nil, err
		}
		return NewValue(r), nil
	case ValueString:
		strs := make([]string, len(params))
		for i, p := range params {
			strs[i] = p.String()
		}
		return stringOp(name, strs)
	case ValueList:
		lists := make([]*InkList, len(params))
		for i, p := range params {
			lists[i] = p.(*ListValue).Val
		}
		return listOp(name, lists)
	case ValueDivertTarget:
		targets := make([]*Path, len(params))
		for i, p := range params {
			targets[i] = p.(*DivertTargetValue).TargetPath
		}
		switch name {
		case OpEquals:
			return &BoolValue{Val: targets[0].Equals(targets[1])}, nil
		case OpNotEquals:
			return &BoolValue{Val: !targets[0].Equals(targets[1])}, nil
		}
		return nil, fmt.Errorf("can't perform operation %q on divert targets", name)
	}
	return nil, fmt.Errorf("unhandled value type for native call %q", name)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intOp(name string, a []int) (any, error) {
	switch len(a) {
	case 1:
		x := a[0]
		switch name {
		case OpNegate:
			return -x, nil
		case OpNot:
			return boolToInt(x == 0), nil
		case OpFloor, OpCeiling, OpInt:
			return x, nil
		case OpFloat:
			return float64(x), nil
		}
	case 2:
		x, y := a[0], a[1]
		switch name {
		case OpAdd:
			return x + y, nil
		case OpSubtract:
			return x - y, nil
		case OpMultiply:
			return x * y, nil
		case OpDivide:
			if y == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return x / y, nil // Go int division already truncates toward zero
		case OpMod:
			if y == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return x % y, nil // Go % already follows dividend sign, matching trunc semantics
		case OpEquals:
			return wrapBool(x == y)
		case OpGreater:
			return wrapBool(x > y)
		case OpLess:
			return wrapBool(x < y)
		case OpGreaterEq:
			return wrapBool(x >= y)
		case OpLessEq:
			return wrapBool(x <= y)
		case OpNotEquals:
			return wrapBool(x != y)
		case OpAnd:
			return wrapBool(x != 0 && y != 0)
		case OpOr:
			return wrapBool(x != 0 || y != 0)
		case OpMin:
			return int(math.Min(float64(x), float64(y))), nil
		case OpMax:
			return int(math.Max(float64(x), float64(y))), nil
		case OpPow:
			return int(math.Pow(float64(x), float64(y))), nil
		}
	}
	return nil, fmt.Errorf("unknown int native function %q", name)
}

// wrapBool lets comparison ops return (bool, error) cleanly from intOp's any-returning cases.
func wrapBool(b bool) (any, error) { return b, nil }

func floatOp(name string, a []float64) (any, error) {
	switch len(a) {
	case 1:
		x := a[0]
		switch name {
		case OpNegate:
			return -x, nil
		case OpNot:
			return boolToInt(x == 0), nil
		case OpFloor:
			return math.Floor(x), nil
		case OpCeiling:
			return math.Ceil(x), nil
		case OpInt:
			return int(math.Floor(x)), nil
		case OpFloat:
			return x, nil
		}
	case 2:
		x, y := a[0], a[1]
		switch name {
		case OpAdd:
			return x + y, nil
		case OpSubtract:
			return x - y, nil
		case OpMultiply:
			return x * y, nil
		case OpDivide:
			return x / y, nil
		case OpMod:
			return math.Mod(x, y), nil
		case OpEquals:
			return x == y, nil
		case OpGreater:
			return x > y, nil
		case OpLess:
			return x < y, nil
		case OpGreaterEq:
			return x >= y, nil
		case OpLessEq:
			return x <= y, nil
		case OpNotEquals:
			return x != y, nil
		case OpAnd:
			return x != 0 && y != 0, nil
		case OpOr:
			return x != 0 || y != 0, nil
		case OpMin:
			return math.Min(x, y), nil
		case OpMax:
			return math.Max(x, y), nil
		case OpPow:
			return math.Pow(x, y), nil
		}
	}
	return nil, fmt.Errorf("unknown float native function %q", name)
}

func stringOp(name string, a []string) (Value, error) {
	switch len(a) {
	case 1:
		switch name {
		case OpNot:
			return &BoolValue{Val: len(a[0]) == 0}, nil
		}
	case 2:
		x, y := a[0], a[1]
		switch name {
		case OpAdd:
			return &StringValue{Val: x + y}, nil
		case OpEquals:
			return &BoolValue{Val: x == y}, nil
		case OpNotEquals:
			return &BoolValue{Val: x != y}, nil
		case OpHas:
			return &BoolValue{Val: containsSubstring(x, y)}, nil
		case OpHasnt:
			return &BoolValue{Val: !containsSubstring(x, y)}, nil
		}
	}
	return nil, fmt.Errorf("unknown string native function %q", name)
}

func containsSubstring(s, sub string) bool {
	if sub == "" {
		return true
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func listOp(name string, a []*InkList) (Value, error) {
	switch len(a) {
	case 1:
		l := a[0]
		switch name {
		case OpNot:
			return &BoolValue{Val: l.Count() == 0}, nil
		case OpListInvert:
			return &ListValue{Val: l.Inverse()}, nil
		case OpListAll:
			return &ListValue{Val: l.All()}, nil
		case OpListMin:
			return &ListValue{Val: l.MinAsList()}, nil
		case OpListMax:
			return &ListValue{Val: l.MaxAsList()}, nil
		case OpListValue:
			if mi, ok := l.MaxItem(); ok {
				return &IntValue{Val: mi.Value}, nil
			}
			return &IntValue{Val: 0}, nil
		case OpListCount:
			return &IntValue{Val: l.Count()}, nil
		case OpNegate:
			return nil, fmt.Errorf("can't negate a list")
		}
	case 2:
		x, y := a[0], a[1]
		switch name {
		case OpAdd:
			return &ListValue{Val: x.Union(y)}, nil
		case OpSubtract:
			return &ListValue{Val: x.Without(y)}, nil
		case OpIntersect:
			return &ListValue{Val: x.Intersect(y)}, nil
		case OpHas:
			return &BoolValue{Val: x.HasIntersection(y) || listContainsAll(x, y)}, nil
		case OpHasnt:
			contains := x.HasIntersection(y) || listContainsAll(x, y)
			return &BoolValue{Val: !contains}, nil
		case OpEquals:
			return &BoolValue{Val: x.Equals(y)}, nil
		case OpNotEquals:
			return &BoolValue{Val: !x.Equals(y)}, nil
		case OpAnd:
			return &BoolValue{Val: x.Count() > 0 && y.Count() > 0}, nil
		case OpOr:
			return &BoolValue{Val: x.Count() > 0 || y.Count() > 0}, nil
		case OpGreater:
			return &BoolValue{Val: listGreaterThan(x, y)}, nil
		case OpLess:
			return &BoolValue{Val: listLessThan(x, y)}, nil
		case OpGreaterEq:
			return &BoolValue{Val: listGreaterThan(x, y) || x.Equals(y)}, nil
		case OpLessEq:
			return &BoolValue{Val: listLessThan(x, y) || x.Equals(y)}, nil
		}
	}
	return nil, fmt.Errorf("unknown list native function %q", name)
}

func listContainsAll(l, sub *InkList) bool {
	contains := true
	for _, it := range sub.OrderedItems() {
		if !l.ContainsKey(it.Item) {
			contains = false
			break
		}
	}
	return contains
}

func listGreaterThan(a, b *InkList) bool {
	amax, aok := a.MaxItem()
	bmin, bok := b.MinItem()
	if !aok || !bok {
		return false
	}
	return amax.Value > bmin.Value
}

func listLessThan(a, b *InkList) bool {
	amin, aok := a.MinItem()
	bmax, bok := b.MaxItem()
	if !aok || !bok {
		return false
	}
	return amin.Value < bmax.Value
}

// callBinaryListOperation handles the special-cased (List, Int)
// increment/decrement and the truthiness-based (List, non-list)
// boolean ops that CoerceValuesToSingleType can't express.
func callBinaryListOperation(name string, params []Value) (Value, error) {
	_, aIsList := params[0].(*ListValue)
	_, bIsList := params[1].(*ListValue)

	if aIsList && bIsList {
		return callTyped(name, ValueList, params)
	}

	if (name == OpAdd || name == OpSubtract) && (aIsList || bIsList) {
		var list *ListValue
		var amount int
		if aIsList {
			list = params[0].(*ListValue)
			iv, err := params[1].Cast(ValueInt)
			if err != nil {
				return nil, err
			}
			amount = iv.(*IntValue).Val
		} else {
			list = params[1].(*ListValue)
			iv, err := params[0].Cast(ValueInt)
			if err != nil {
				return nil, err
			}
			amount = iv.(*IntValue).Val
		}
		if name == OpSubtract {
			amount = -amount
		}
		return &ListValue{Val: listIncrement(list.Val, amount)}, nil
	}

	if name == OpAnd || name == OpOr {
		lhsTruthy := params[0].IsTruthy()
		rhsTruthy := params[1].IsTruthy()
		if name == OpAnd {
			return &BoolValue{Val: lhsTruthy && rhsTruthy}, nil
		}
		return &BoolValue{Val: lhsTruthy || rhsTruthy}, nil
	}

	return callTyped(name, ValueList, params)
}

// listIncrement shifts every item's value by amount within its origin
// list, dropping items whose shifted value has no match in that origin.
func listIncrement(l *InkList, amount int) *InkList {
	out := NewInkList()
	out.origins = l.origins
	for _, el := range l.OrderedItems() {
		var def *ListDefinition
		for _, d := range l.origins {
			if d.Name() == el.Item.OriginName {
				def = d
				break
			}
		}
		if def == nil {
			continue
		}
		newVal := el.Value + amount
		if item, ok := def.TryGetItemWithValue(newVal); ok {
			out.Add(item, newVal)
		}
	}
	return out
}
