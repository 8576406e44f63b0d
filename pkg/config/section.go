package config

import "strings"

// Section is one named group of key/value pairs. Keys keep the order in
// which they were read and are stored lower-case.
type Section struct {
	name   string
	keys   []string
	values map[string]string
}

// NewSection creates an empty section.
func NewSection(name string) *Section {
	return &Section{name: name, values: make(map[string]string)}
}

// Name returns the section name.
func (s *Section) Name() string { return s.name }

// Get returns the value for key and whether it is present.
func (s *Section) Get(key string) (string, bool) {
	v, ok := s.values[strings.ToLower(key)]
	return v, ok
}

// Value returns the value for key, or "" when absent.
func (s *Section) Value(key string) string {
	v, _ := s.Get(key)
	return v
}

// Set adds or replaces a key. A new key goes to the end.
func (s *Section) Set(key, value string) {
	key = strings.ToLower(key)
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Delete removes a key if present.
func (s *Section) Delete(key string) {
	key = strings.ToLower(key)
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in file order.
func (s *Section) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Len returns the number of keys.
func (s *Section) Len() int { return len(s.keys) }

// Map returns a copy of the key/value pairs.
func (s *Section) Map() map[string]string {
	m := make(map[string]string, len(s.values))
	for k, v := range s.values {
		m[k] = v
	}
	return m
}

// Truthy interprets the "yes"/"no" strings used for booleans in the INI
// files. Anything unrecognised is false.
func Truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "y", "yes", "true", "on":
		return true
	default:
		return false
	}
}

// ExpandHome replaces a leading "~" with home.
func ExpandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return home + path[1:]
	}
	return path
}
