package gguf

func GetString(kv map[string]Value, key string) (string, bool) {
	v, ok := kv[key]
	if !ok {
		return "", false
	}
	s, ok := v.Value.(string)
	return s, ok
}

func GetUint64(kv map[string]Value, key string) (uint64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	return asUint64(v.Value)
}
