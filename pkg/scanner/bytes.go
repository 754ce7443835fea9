// Package scanner picks single fields out of JSON payloads without a
// full unmarshal. The transport client routes every inbound frame by
// topic, so the sniff runs once per frame and must not allocate.
package scanner

// Field extracts the quoted value of key from a JSON payload. key
// carries its own quotes, e.g. `"topic"`. The returned slice aliases
// payload and is only valid as long as payload is.
//
// Values containing escapes report false so the caller falls back to a
// real decoder.
func Field(payload, key []byte) ([]byte, bool) {
	idx := keyIndex(payload, key)
	if idx < 0 {
		return nil, false
	}
	i := idx + len(key)
	for i < len(payload) && isSpace(payload[i]) {
		i++
	}
	if i >= len(payload) || payload[i] != ':' {
		return nil, false
	}
	i++
	for i < len(payload) && isSpace(payload[i]) {
		i++
	}
	if i >= len(payload) || payload[i] != '"' {
		return nil, false
	}
	i++
	start := i
	for i < len(payload) {
		switch payload[i] {
		case '\\':
			return nil, false
		case '"':
			return payload[start:i], true
		}
		i++
	}
	return nil, false
}

// keyIndex finds the first occurrence of key that sits in key position,
// meaning the previous non-space byte is '{' or ','. A match inside a
// string value never has that shape.
func keyIndex(payload, key []byte) int {
	if len(key) == 0 || len(payload) < len(key) {
		return -1
	}
outer:
	for i := 0; i <= len(payload)-len(key); i++ {
		for j := range key {
			if payload[i+j] != key[j] {
				continue outer
			}
		}
		if !inKeyPosition(payload, i) {
			continue
		}
		return i
	}
	return -1
}

func inKeyPosition(payload []byte, idx int) bool {
	for j := idx - 1; j >= 0; j-- {
		if isSpace(payload[j]) {
			continue
		}
		return payload[j] == '{' || payload[j] == ','
	}
	return false
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
