package utils

import "testing"

func TestOptionGetString(t *testing.T) {
	opts := Option{
		"speaker.voice": "de-DE-Standard-A",
		"listen.rate":   16000,
	}

	if v, err := opts.GetString("speaker.voice"); err != nil || v != "de-DE-Standard-A" {
		t.Errorf("expected voice, got %q (%v)", v, err)
	}
	if v, err := opts.GetString("listen.rate"); err != nil || v != "16000" {
		t.Errorf("expected stringified int, got %q (%v)", v, err)
	}
	if _, err := opts.GetString("missing"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestOptionGetBool(t *testing.T) {
	opts := Option{
		"listen.interim": true,
		"listen.vad":     "false",
		"listen.model":   "nova",
	}

	if v, err := opts.GetBool("listen.interim"); err != nil || !v {
		t.Errorf("expected true, got %v (%v)", v, err)
	}
	if v, err := opts.GetBool("listen.vad"); err != nil || v {
		t.Errorf("expected parsed false, got %v (%v)", v, err)
	}
	if _, err := opts.GetBool("listen.model"); err == nil {
		t.Error("expected error for non-bool string")
	}
	if _, err := opts.GetBool("missing"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestOptionGetUint64(t *testing.T) {
	opts := Option{
		"a": uint64(7),
		"b": 42,
		"c": float64(100), // JSON number decoding
		"d": "250",
		"e": -1,
		"f": "abc",
	}

	for key, want := range map[string]uint64{"a": 7, "b": 42, "c": 100, "d": 250} {
		if v, err := opts.GetUint64(key); err != nil || v != want {
			t.Errorf("key %s: expected %d, got %d (%v)", key, want, v, err)
		}
	}
	if _, err := opts.GetUint64("e"); err == nil {
		t.Error("expected error for negative value")
	}
	if _, err := opts.GetUint64("f"); err == nil {
		t.Error("expected error for non-numeric string")
	}
}

func TestOptionGetFloat64(t *testing.T) {
	opts := Option{
		"threshold": 0.5,
		"ratio":     "1.25",
	}

	if v, err := opts.GetFloat64("threshold"); err != nil || v != 0.5 {
		t.Errorf("expected 0.5, got %f (%v)", v, err)
	}
	if v, err := opts.GetFloat64("ratio"); err != nil || v != 1.25 {
		t.Errorf("expected parsed 1.25, got %f (%v)", v, err)
	}
}

func TestOptionGetStrings(t *testing.T) {
	opts := Option{
		"list":   []string{"a", "b"},
		"mixed":  []interface{}{"x", 1},
		"scalar": "solo",
	}

	if v, err := opts.GetStrings("list"); err != nil || len(v) != 2 || v[1] != "b" {
		t.Errorf("expected [a b], got %v (%v)", v, err)
	}
	if v, err := opts.GetStrings("mixed"); err != nil || len(v) != 2 || v[1] != "1" {
		t.Errorf("expected stringified elements, got %v (%v)", v, err)
	}
	if v, err := opts.GetStrings("scalar"); err != nil || len(v) != 1 || v[0] != "solo" {
		t.Errorf("expected single-element slice, got %v (%v)", v, err)
	}
}

func TestOptionMerge(t *testing.T) {
	base := Option{"a": 1, "b": 2}
	merged := base.Merge(Option{"b": 3, "c": 4})

	if merged["a"] != 1 || merged["b"] != 3 || merged["c"] != 4 {
		t.Errorf("unexpected merge result: %v", merged)
	}
	if base["b"] != 2 {
		t.Error("merge must not mutate the receiver")
	}
}
