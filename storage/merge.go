package storage

import "canopy/types"

// merge implements the commit-time three-way reconciliation of spec §4.1
// step 4: given the transaction's base read (baseVal, possibly absent),
// the value now committed by a concurrent writer (latestVal), and this
// transaction's own new value (newVal), produce a merged result when the
// hints describe compatible structural operations.
//
// Values are passed as `any` holding the concrete relation value types
// (ValueList, ValueMap, FlyweightSlots, or string) the world package
// stores; merge only type-switches on the shapes it knows how to
// reconcile and refuses (ok=false) everything else, which the caller
// turns into a ConflictError.
func merge(baseVal, latestVal, newVal any, latestHint, newHint OpHint) (any, bool) {
	if latestHint != newHint || latestHint == OpNone {
		return nil, false
	}

	switch latestHint {
	case OpListAppend:
		return mergeListAppend(baseVal, latestVal, newVal)
	case OpMapInsert:
		return mergeMapInsert(baseVal, latestVal, newVal)
	case OpFlyweightAddSlot:
		return mergeFlyweightAddSlot(baseVal, latestVal, newVal)
	case OpFlyweightAppendContents:
		return mergeFlyweightAppendContents(baseVal, latestVal, newVal)
	case OpStrAppend:
		return mergeStrAppend(baseVal, latestVal, newVal)
	default:
		return nil, false
	}
}

func asList(v any) (ValueList, bool) {
	if v == nil {
		return nil, true
	}
	l, ok := v.(ValueList)
	return l, ok
}

// mergeListAppend reconciles two concurrent appends to the same list:
// base ++ (latest \ base) ++ (new \ base), i.e. every element either side
// appended beyond the common base prefix, latest's additions first.
func mergeListAppend(baseVal, latestVal, newVal any) (any, bool) {
	base, ok1 := asList(baseVal)
	latest, ok2 := asList(latestVal)
	newList, ok3 := asList(newVal)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}
	if len(latest) < len(base) || len(newList) < len(base) {
		return nil, false
	}
	for i := range base {
		if !base[i].Equal(latest[i]) || !base[i].Equal(newList[i]) {
			return nil, false
		}
	}
	merged := make(ValueList, 0, len(base)+(len(latest)-len(base))+(len(newList)-len(base)))
	merged = append(merged, base...)
	merged = append(merged, latest[len(base):]...)
	merged = append(merged, newList[len(base):]...)
	return merged, true
}

func asMap(v any) (ValueMap, bool) {
	if v == nil {
		return ValueMap{}, true
	}
	m, ok := v.(ValueMap)
	return m, ok
}

// mergeMapInsert unions the key/value pairs inserted by each side since
// base. The same key inserted with two different values is a conflict.
func mergeMapInsert(baseVal, latestVal, newVal any) (any, bool) {
	base, ok1 := asMap(baseVal)
	latest, ok2 := asMap(latestVal)
	newMap, ok3 := asMap(newVal)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}

	result := base.Clone()
	for _, added := range []ValueMap{latest, newMap} {
		for _, pair := range added {
			if base.Has(pair.Key) {
				continue
			}
			if existing, ok := result.Get(pair.Key); ok {
				if !existing.Equal(pair.Value) {
					return nil, false
				}
				continue
			}
			result = result.Insert(pair.Key, pair.Value)
		}
	}
	return result, true
}

func asFlyweightSlots(v any) (FlyweightSlots, bool) {
	if v == nil {
		return FlyweightSlots{}, true
	}
	f, ok := v.(FlyweightSlots)
	return f, ok
}

func mergeFlyweightAddSlot(baseVal, latestVal, newVal any) (any, bool) {
	base, ok1 := asFlyweightSlots(baseVal)
	latest, ok2 := asFlyweightSlots(latestVal)
	newSlots, ok3 := asFlyweightSlots(newVal)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}
	result := base.Clone()
	if result.Slots == nil {
		result.Slots = make(map[types.Symbol]Value)
	}
	for _, slots := range []FlyweightSlots{latest, newSlots} {
		for name, val := range slots.Slots {
			if _, inBase := base.Slots[name]; inBase {
				continue
			}
			if existing, ok := result.Slots[name]; ok {
				if !existing.Equal(val) {
					return nil, false
				}
				continue
			}
			result.Slots[name] = val
		}
	}
	return result, true
}

// mergeFlyweightAppendContents merges positional appends to a flyweight's
// contents list the same way mergeListAppend does.
func mergeFlyweightAppendContents(baseVal, latestVal, newVal any) (any, bool) {
	base, ok1 := asFlyweightSlots(baseVal)
	latest, ok2 := asFlyweightSlots(latestVal)
	newSlots, ok3 := asFlyweightSlots(newVal)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}
	mergedContents, ok := mergeListAppend(ValueList(base.Contents), ValueList(latest.Contents), ValueList(newSlots.Contents))
	if !ok {
		return nil, false
	}
	result := latest.Clone()
	result.Contents = []Value(mergedContents.(ValueList))
	return result, true
}

func mergeStrAppend(baseVal, latestVal, newVal any) (any, bool) {
	base, ok1 := baseVal.(string)
	if baseVal == nil {
		base, ok1 = "", true
	}
	latest, ok2 := latestVal.(string)
	newStr, ok3 := newVal.(string)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}
	if len(latest) < len(base) || len(newStr) < len(base) {
		return nil, false
	}
	if latest[:len(base)] != base || newStr[:len(base)] != base {
		return nil, false
	}
	return base + latest[len(base):] + newStr[len(base):], true
}
