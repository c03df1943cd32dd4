package codec

// Merge deep-merges sparse onto a copy of base. Where both sides hold a
// mapping the merge recurses; otherwise the sparse value replaces the base
// value. Neither argument is modified.
func Merge(base, sparse map[string]any) map[string]any {
	out := deepCopy(base).(map[string]any)
	if out == nil {
		out = make(map[string]any, len(sparse))
	}
	for k, sv := range sparse {
		bm, baseIsMap := out[k].(map[string]any)
		sm, sparseIsMap := sv.(map[string]any)
		if baseIsMap && sparseIsMap {
			out[k] = Merge(bm, sm)
			continue
		}
		out[k] = deepCopy(sv)
	}
	return out
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		if x == nil {
			return []any(nil)
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopy(e)
		}
		return out
	}
	return v
}
