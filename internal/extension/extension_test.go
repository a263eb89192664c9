package extension

import (
	"encoding/json"
	"testing"

	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

func TestSetGet(t *testing.T) {
	m := NewMap()

	if err := m.Set("source", "ocr-pipeline"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got string
	ok, err := m.Get("source", &got)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got != "ocr-pipeline" {
		t.Errorf("got %q", got)
	}

	ok, err = m.Get("missing", &got)
	if err != nil || ok {
		t.Errorf("missing key: ok=%v err=%v", ok, err)
	}
}

func TestReservedKey(t *testing.T) {
	m := NewMap()
	if err := m.Set("_v", 99); !errors.HasCode(err, errors.ErrCodeValidation) {
		t.Errorf("expected validation error for reserved key, got %v", err)
	}
}

func TestVersionTag(t *testing.T) {
	m := NewMap()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"_v":1}` {
		t.Errorf("empty map json = %s", data)
	}

	t.Run("missing tag reads as version zero", func(t *testing.T) {
		var back Map
		if err := json.Unmarshal([]byte(`{"legacy":"x"}`), &back); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if back.Version != 0 {
			t.Errorf("version = %d, want 0", back.Version)
		}
		if !back.Has("legacy") {
			t.Error("legacy key lost")
		}
	})
}

func TestUnknownKeysSurviveRoundTrip(t *testing.T) {
	// A newer writer stored a key this service has no notion of; it must
	// come back byte-identical.
	src := `{"_v":7,"future_field":{"nested":[1,2,3]},"note":"keep me"}`

	var m Map
	if err := json.Unmarshal([]byte(src), &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m.Version != 7 {
		t.Errorf("version = %d, want 7", m.Version)
	}

	if err := m.Set("mine", true); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, err := json.Marshal(&m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if string(out["future_field"]) != `{"nested":[1,2,3]}` {
		t.Errorf("future_field mangled: %s", out["future_field"])
	}
	if string(out["_v"]) != "7" {
		t.Errorf("version tag = %s, want 7", out["_v"])
	}
}

func TestKeys(t *testing.T) {
	m := NewMap()
	_ = m.Set("a", 1)
	_ = m.Set("b", 2)
	if len(m.Keys()) != 2 {
		t.Errorf("Keys() = %v", m.Keys())
	}
}
