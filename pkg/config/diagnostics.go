package config

import "fmt"

// RedactedDump renders the configuration's dotted key/value pairs with any
// password/token/secret-shaped value masked, for safe display in logs or a
// `config show` style command.
func (m *Manager) RedactedDump() map[string]string {
	m.mu.RLock()
	k := m.k
	m.mu.RUnlock()
	if k == nil {
		return nil
	}
	out := make(map[string]string, len(k.Keys()))
	for _, key := range k.Keys() {
		if isSensitiveKey(key) {
			out[key] = "********"
			continue
		}
		out[key] = fmt.Sprintf("%v", k.Get(key))
	}
	return out
}
