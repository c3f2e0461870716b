package cache

// ReplaceByID returns a copy of items where the element with id is replaced by
// replace(old). Every other element keeps its pointer, so readers holding a
// sibling see no change. The second result is false when id is absent or
// replace returns nil.
func ReplaceByID[T any](items []*T, id int64, idOf func(*T) int64, replace func(old *T) *T) ([]*T, bool) {
	idx := -1
	for i, it := range items {
		if it != nil && idOf(it) == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return items, false
	}
	next := replace(items[idx])
	if next == nil {
		return items, false
	}
	out := make([]*T, len(items))
	copy(out, items)
	out[idx] = next
	return out, true
}

// PatchSlice adapts ReplaceByID to Cache.Patch for values stored as []*T.
func PatchSlice[T any](id int64, idOf func(*T) int64, replace func(old *T) *T) func(any) (any, bool) {
	return func(old any) (any, bool) {
		items, ok := old.([]*T)
		if !ok {
			return old, false
		}
		next, changed := ReplaceByID(items, id, idOf, replace)
		if !changed {
			return old, false
		}
		return next, true
	}
}
