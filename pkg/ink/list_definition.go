package ink

// ListDefinition is a named enumeration: item name -> int value.
type ListDefinition struct {
	name          string
	itemNameToVal map[string]int
}

func NewListDefinition(name string, itemValues map[string]int) *ListDefinition {
	return &ListDefinition{name: name, itemNameToVal: itemValues}
}

func (d *ListDefinition) Name() string { return d.name }

func (d *ListDefinition) ValueForItem(itemName string) (int, bool) {
	v, ok := d.itemNameToVal[itemName]
	return v, ok
}

func (d *ListDefinition) ContainsItemWithName(itemName string) bool {
	_, ok := d.itemNameToVal[itemName]
	return ok
}

// TryGetItemWithValue finds the (first, by map order) item with the
// given value.
func (d *ListDefinition) TryGetItemWithValue(value int) (InkListItem, bool) {
	for name, v := range d.itemNameToVal {
		if v == value {
			return InkListItem{OriginName: d.name, ItemName: name}, true
		}
	}
	return InkListItem{}, false
}

// items returns the definition's contents keyed by serialized
// "origin.item" for use building InkLists.
func (d *ListDefinition) items() map[string]int {
	out := make(map[string]int, len(d.itemNameToVal))
	for name, v := range d.itemNameToVal {
		out[InkListItem{OriginName: d.name, ItemName: name}.serializedKey()] = v
	}
	return out
}

// ListDefinitionsOrigin is the story-wide table of all LIST
// declarations, plus a cache resolving unambiguous bare/full item
// names straight to a single-item ListValue.
type ListDefinitionsOrigin struct {
	lists               []*ListDefinition
	byName              map[string]*ListDefinition
	unambiguousItemCache map[string]*ListValue
}

func NewListDefinitionsOrigin(defs []*ListDefinition) *ListDefinitionsOrigin {
	o := &ListDefinitionsOrigin{lists: defs, byName: map[string]*ListDefinition{}, unambiguousItemCache: map[string]*ListValue{}}
	for _, def := range defs {
		o.byName[def.name] = def
		for itemName, val := range def.itemNameToVal {
			item := InkListItem{OriginName: def.name, ItemName: itemName}
			single := NewListValueSingle(item, val)
			single.Val.origins = []*ListDefinition{def}

			fullName := item.FullName()
			if _, exists := o.unambiguousItemCache[fullName]; !exists {
				o.unambiguousItemCache[fullName] = single
			} else {
				o.unambiguousItemCache[fullName] = nil
			}
			if _, exists := o.unambiguousItemCache[itemName]; !exists {
				o.unambiguousItemCache[itemName] = single
			} else {
				o.unambiguousItemCache[itemName] = nil
			}
		}
	}
	return o
}

func (o *ListDefinitionsOrigin) Lists() []*ListDefinition { return o.lists }

func (o *ListDefinitionsOrigin) TryGetDefinition(name string) (*ListDefinition, bool) {
	d, ok := o.byName[name]
	return d, ok
}

// FindSingleItemListWithName resolves a bare or full item name to a
// single-item ListValue, provided exactly one list defines that item.
func (o *ListDefinitionsOrigin) FindSingleItemListWithName(name string) (*ListValue, bool) {
	v, ok := o.unambiguousItemCache[name]
	return v, ok && v != nil
}
