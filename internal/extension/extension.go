package extension

import (
	"encoding/json"

	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

// CurrentVersion is the schema version written by this service.
const CurrentVersion = 1

// versionKey is reserved inside the JSON object and never exposed as a field.
const versionKey = "_v"

// Map is a typed, versioned extension bag replacing free-form metadata
// columns. Keys this service does not know about are preserved verbatim
// across decode/encode, never interpreted.
type Map struct {
	Version int
	fields  map[string]json.RawMessage
}

// NewMap returns an empty extension map at the current schema version.
func NewMap() *Map {
	return &Map{Version: CurrentVersion, fields: make(map[string]json.RawMessage)}
}

// Set stores value under key, JSON-encoded.
func (m *Map) Set(key string, value any) error {
	if key == versionKey {
		return errors.InvalidInput("key", "reserved extension key")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "extension value not encodable")
	}
	if m.fields == nil {
		m.fields = make(map[string]json.RawMessage)
	}
	m.fields[key] = raw
	return nil
}

// Get decodes the value under key into out. Returns false when absent.
func (m *Map) Get(key string, out any) (bool, error) {
	raw, ok := m.fields[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, errors.Wrap(err, errors.ErrCodeValidation, "extension value not decodable")
	}
	return true, nil
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.fields[key]
	return ok
}

// Keys returns all stored keys, including ones written by newer schema
// versions of other writers.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.fields))
	for k := range m.fields {
		keys = append(keys, k)
	}
	return keys
}

// MarshalJSON emits one flat JSON object with the version tag inline.
func (m *Map) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.fields)+1)
	for k, v := range m.fields {
		out[k] = v
	}
	version := m.Version
	if version == 0 {
		version = CurrentVersion
	}
	raw, err := json.Marshal(version)
	if err != nil {
		return nil, err
	}
	out[versionKey] = raw
	return json.Marshal(out)
}

// UnmarshalJSON restores a map, keeping unknown keys untouched. A missing
// version tag reads as version 0 (pre-versioning writers).
func (m *Map) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Version = 0
	if v, ok := raw[versionKey]; ok {
		if err := json.Unmarshal(v, &m.Version); err != nil {
			return err
		}
		delete(raw, versionKey)
	}
	m.fields = raw
	return nil
}
