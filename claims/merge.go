package claims

// MergePatch applies patch to target following RFC 7386 and returns the
// result. Objects merge recursively, null removes a member and any other
// value replaces it. target may be modified in place.
func MergePatch(target, patch map[string]interface{}) map[string]interface{} {
	if target == nil {
		target = make(map[string]interface{}, len(patch))
	}
	for k, v := range patch {
		switch pv := v.(type) {
		case nil:
			delete(target, k)
		case map[string]interface{}:
			tv, _ := target[k].(map[string]interface{})
			target[k] = MergePatch(tv, pv)
		default:
			target[k] = v
		}
	}
	return target
}
