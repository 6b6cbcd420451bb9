package stablejson

import "testing"

func TestStringifyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": 1, "y": 2}}
	b := map[string]any{"c": map[string]any{"y": 2, "z": 1}, "a": 2, "b": 1}

	sa, err := Stringify(a)
	if err != nil {
		t.Fatalf("stringify a: %v", err)
	}
	sb, err := Stringify(b)
	if err != nil {
		t.Fatalf("stringify b: %v", err)
	}
	if sa != sb {
		t.Fatalf("expected equal stable json, got %q vs %q", sa, sb)
	}
	want := `{"a":2,"b":1,"c":{"y":2,"z":1}}`
	if sa != want {
		t.Fatalf("got %q want %q", sa, want)
	}
}

func TestStringifyPreservesArrayOrder(t *testing.T) {
	in := map[string]any{"items": []any{3, 1, 2}}
	got, err := Stringify(in)
	if err != nil {
		t.Fatalf("stringify: %v", err)
	}
	want := `{"items":[3,1,2]}`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestStringifyNested(t *testing.T) {
	type Input struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	}
	in := Input{Name: "write_file", Args: map[string]any{"path": "a.txt", "content": "hi"}}
	got, err := Stringify(in)
	if err != nil {
		t.Fatalf("stringify: %v", err)
	}
	want := `{"args":{"content":"hi","path":"a.txt"},"name":"write_file"}`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
