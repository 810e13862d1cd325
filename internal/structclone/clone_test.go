package structclone

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

type source struct {
	Kind  string
	Value string
	Fn    func() error
}

func TestCloneDeepCopiesMapsAndSlices(t *testing.T) {
	original := map[string]any{
		"name":    "hot-sauce",
		"exports": []string{"a", "b"},
		"nested":  map[string]any{"heat": 9},
	}

	copied, err := Clone(original)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reflect.DeepEqual(original, copied) {
		t.Fatalf("clone mismatch:\nwant: %#v\n got: %#v", original, copied)
	}

	copied["nested"].(map[string]any)["heat"] = 1
	copied["exports"].([]string)[0] = "z"
	if original["nested"].(map[string]any)["heat"] != 9 {
		t.Fatalf("expected nested map to be detached")
	}
	if original["exports"].([]string)[0] != "a" {
		t.Fatalf("expected slice to be detached")
	}
}

func TestClonePreservesCycles(t *testing.T) {
	type node struct {
		Name string
		Next *node
	}
	a := &node{Name: "a"}
	a.Next = a

	copied, err := Clone(a)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if copied == a {
		t.Fatalf("expected a new pointer")
	}
	if copied.Next != copied {
		t.Fatalf("expected cycle to be preserved in the copy")
	}
}

func TestCheckRejectsFuncsAndChannels(t *testing.T) {
	cases := []struct {
		name  string
		value any
		ok    bool
	}{
		{name: "string", value: "export default 42;", ok: true},
		{name: "nil func field", value: source{Kind: "code", Value: "x"}, ok: true},
		{name: "func field", value: source{Kind: "func", Fn: func() error { return nil }}},
		{name: "func in map", value: map[string]any{"fn": func() {}}},
		{name: "channel", value: make(chan int)},
		{name: "slice of structs", value: []source{{Kind: "uri", Value: "data:,"}}, ok: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.value)
			if tc.ok && err != nil {
				t.Fatalf("expected value to be cloneable, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrNotCloneable) {
				t.Fatalf("expected ErrNotCloneable, got %v", err)
			}
		})
	}
}

func TestCloneNilInterface(t *testing.T) {
	var value any
	copied, err := Clone(value)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if copied != nil {
		t.Fatalf("expected nil, got %#v", copied)
	}
}

func TestCloneKeepsUnexportedState(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	copied, err := Clone(map[string]any{"at": at})
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if got, ok := copied["at"].(time.Time); !ok || !got.Equal(at) {
		t.Fatalf("expected time to survive, got %#v", copied["at"])
	}
}
