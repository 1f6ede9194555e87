package ink

import (
	"sort"
	"strings"
)

// InkListItem identifies one member of a list definition by the
// origin list's name and the item's own name.
type InkListItem struct {
	OriginName string
	ItemName   string
}

func NullInkListItem() InkListItem { return InkListItem{} }

func (i InkListItem) IsNull() bool { return i.OriginName == "" && i.ItemName == "" }

func (i InkListItem) FullName() string {
	origin := i.OriginName
	if origin == "" {
		origin = "?"
	}
	return origin + "." + i.ItemName
}

// serializedKey is the "Origin.item" form used as the map key in both
// the in-memory representation and the JSON "list" object.
func (i InkListItem) serializedKey() string { return i.FullName() }

func inkListItemFromKey(key string) InkListItem {
	idx := strings.LastIndex(key, ".")
	if idx < 0 {
		return NullInkListItem()
	}
	origin, item := key[:idx], key[idx+1:]
	if origin == "?" {
		origin = ""
	}
	if item == "" {
		return NullInkListItem()
	}
	return InkListItem{OriginName: origin, ItemName: item}
}

// InkListElement pairs an item with its numeric value, the unit an
// ordered traversal of a list works with.
type InkListElement struct {
	Item  InkListItem
	Value int
}

// InkList is a set of (origin, item) -> int, plus the list of
// ListDefinitions it was constructed against (its "origins"), used for
// LIST_ALL / LIST_INVERT and for resolving bare item names on add.
type InkList struct {
	items       map[string]int // serialized key -> value
	origins     []*ListDefinition
	originNames []string
}

func NewInkList() *InkList { return &InkList{items: map[string]int{}} }

func NewInkListFromSingle(item InkListItem, value int) *InkList {
	l := NewInkList()
	l.items[item.serializedKey()] = value
	return l
}

// NewInkListFromOrigin builds an empty list bound to a single origin
// name (looked up against originsLookup).
func NewInkListFromOrigin(originName string, origins *ListDefinitionsOrigin) *InkList {
	l := NewInkList()
	l.SetInitialOriginNames([]string{originName})
	if origins != nil {
		if def, ok := origins.TryGetDefinition(originName); ok {
			l.origins = []*ListDefinition{def}
		}
	}
	return l
}

func (l *InkList) Count() int { return len(l.items) }

func (l *InkList) Add(item InkListItem, value int) { l.items[item.serializedKey()] = value }

func (l *InkList) Remove(item InkListItem) { delete(l.items, item.serializedKey()) }

func (l *InkList) ContainsItemNamed(itemName string) bool {
	for k := range l.items {
		if inkListItemFromKey(k).ItemName == itemName {
			return true
		}
	}
	return false
}

func (l *InkList) ContainsKey(item InkListItem) bool {
	_, ok := l.items[item.serializedKey()]
	return ok
}

func (l *InkList) OriginNames() []string {
	if len(l.items) > 0 {
		seen := map[string]bool{}
		var names []string
		for k := range l.items {
			n := inkListItemFromKey(k).OriginName
			if n != "" && !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
		return names
	}
	return l.originNames
}

func (l *InkList) SetInitialOriginNames(names []string) { l.originNames = append([]string(nil), names...) }

// OrderedItems returns the list sorted by (value, originName) as the
// stable iteration/comparison order.
func (l *InkList) OrderedItems() []InkListElement {
	out := make([]InkListElement, 0, len(l.items))
	for k, v := range l.items {
		out = append(out, InkListElement{Item: inkListItemFromKey(k), Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value < out[j].Value
		}
		return out[i].Item.OriginName < out[j].Item.OriginName
	})
	return out
}

func (l *InkList) MaxItem() (InkListElement, bool) {
	items := l.OrderedItems()
	if len(items) == 0 {
		return InkListElement{}, false
	}
	return items[len(items)-1], true
}

func (l *InkList) MinItem() (InkListElement, bool) {
	items := l.OrderedItems()
	if len(items) == 0 {
		return InkListElement{}, false
	}
	return items[0], true
}

func (l *InkList) MaxAsList() *InkList {
	out := NewInkList()
	if mi, ok := l.MaxItem(); ok {
		out.Add(mi.Item, mi.Value)
	}
	return out
}

func (l *InkList) MinAsList() *InkList {
	out := NewInkList()
	if mi, ok := l.MinItem(); ok {
		out.Add(mi.Item, mi.Value)
	}
	return out
}

func (l *InkList) SingleItem() (InkListElement, bool) {
	items := l.OrderedItems()
	if len(items) == 0 {
		return InkListElement{}, false
	}
	return items[0], true
}

// Union, Intersect, Without, Equals implement the list-algebra native
// operators over the key set (values carried along from self where
// present, else from the other operand).
func (l *InkList) Union(o *InkList) *InkList {
	out := NewInkList()
	for k, v := range l.items {
		out.items[k] = v
	}
	for k, v := range o.items {
		if _, ok := out.items[k]; !ok {
			out.items[k] = v
		}
	}
	return out
}

func (l *InkList) Intersect(o *InkList) *InkList {
	out := NewInkList()
	for k, v := range l.items {
		if _, ok := o.items[k]; ok {
			out.items[k] = v
		}
	}
	return out
}

func (l *InkList) Without(o *InkList) *InkList {
	out := NewInkList()
	for k, v := range l.items {
		if _, ok := o.items[k]; !ok {
			out.items[k] = v
		}
	}
	return out
}

func (l *InkList) HasIntersection(o *InkList) bool {
	for k := range l.items {
		if _, ok := o.items[k]; ok {
			return true
		}
	}
	return false
}

func (l *InkList) Equals(o *InkList) bool {
	if len(l.items) != len(o.items) {
		return false
	}
	for k := range l.items {
		if _, ok := o.items[k]; !ok {
			return false
		}
	}
	return true
}

// Inverse returns every item in the list's origins that isn't in the
// list itself.
func (l *InkList) Inverse() *InkList {
	out := NewInkList()
	for _, def := range l.origins {
		for key, val := range def.items() {
			if _, ok := l.items[key]; !ok {
				out.items[key] = val
			}
		}
	}
	return out
}

// All returns the full union of every origin's items.
func (l *InkList) All() *InkList {
	out := NewInkList()
	for _, def := range l.origins {
		for key, val := range def.items() {
			out.items[key] = val
		}
	}
	return out
}

// OriginOfMaxItem finds the ListDefinition owning the max item, by name.
func (l *InkList) OriginOfMaxItem() *ListDefinition {
	mi, ok := l.MaxItem()
	if !ok {
		return nil
	}
	for _, def := range l.origins {
		if def.Name() == mi.Item.OriginName {
			return def
		}
	}
	return nil
}

// ListWithSubRange filters to items whose value falls within
// [min,max] inclusive, where each bound may itself be an int or
// (via an InkList) the min/max value of that list.
func (l *InkList) ListWithSubRange(minBound, maxBound any) *InkList {
	toBound := func(b any, useMax bool) int {
		switch x := b.(type) {
		case int:
			return x
		case *InkList:
			mi, ok := x.MinItem()
			if useMax {
				mi, ok = x.MaxItem()
			}
			if ok {
				return mi.Value
			}
			return 0
		default:
			return 0
		}
	}
	lo, hi := toBound(minBound, false), toBound(maxBound, true)
	out := NewInkList()
	for k, v := range l.items {
		if v >= lo && v <= hi {
			out.items[k] = v
		}
	}
	return out
}

func (l *InkList) String() string {
	items := l.OrderedItems()
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Item.ItemName
	}
	return strings.Join(names, ", ")
}

// ForEach iterates serialized-key -> value pairs (used by the JSON
// codec, which needs the raw keys).
func (l *InkList) ForEach(fn func(key string, value int)) {
	for k, v := range l.items {
		fn(k, v)
	}
}
