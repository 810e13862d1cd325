package hydrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDecoderFromFixtures(t *testing.T) {
	fx := loadFixture(t, "hydrate_records.json")

	for _, tc := range fx.Cases {
		t.Run(tc.Name, func(t *testing.T) {
			decoder := NewDecoder[record](buildOptions(tc)...)

			ctx := Context{
				Kind:    tc.Kind,
				Subject: tc.Subject,
			}

			result, err := decoder.Decode(ctx, tc.Input)

			if tc.ExpectErr != "" {
				if err == nil {
					t.Fatalf("expected error %q, got nil", tc.ExpectErr)
				}
				if !strings.Contains(err.Error(), tc.ExpectErr) {
					t.Fatalf("expected error containing %q, got %v", tc.ExpectErr, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}

			if !reflect.DeepEqual(tc.Expect, result) {
				t.Fatalf("decoded record mismatch:\nwant: %#v\n got: %#v", tc.Expect, result)
			}
		})
	}
}

func TestDecodeNilPayload(t *testing.T) {
	_, err := NewDecoder[record]().Decode(Context{Kind: "stage", Subject: "s1"}, nil)
	if err == nil || !strings.Contains(err.Error(), `stage "s1" is nil`) {
		t.Fatalf("expected nil payload error, got %v", err)
	}
}

func TestDecodeDoesNotMutateInput(t *testing.T) {
	input := map[string]any{"name": "fun", "exports": "a,b"}
	decoder := NewDecoder[record](WithPreHook[record](splitExportsPreHook))
	if _, err := decoder.Decode(Context{}, input); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if input["exports"] != "a,b" {
		t.Fatalf("expected input untouched, got %#v", input["exports"])
	}
}

func TestUseNumberKeepsNumbers(t *testing.T) {
	type values struct {
		Values map[string]any `json:"values"`
	}
	decoder := NewDecoder[values](WithUseNumber[values]())
	out, err := decoder.Decode(Context{Kind: "stage"}, map[string]any{"values": map[string]any{"answer": 42}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := out.Values["answer"].(json.Number); !ok {
		t.Fatalf("expected json.Number, got %T", out.Values["answer"])
	}
}

func buildOptions(tc fixtureCase) []DecoderOption[record] {
	options := []DecoderOption[record]{}

	for _, optName := range tc.Options {
		switch optName {
		case "use_number":
			options = append(options, WithUseNumber[record]())
		case "disallow_unknown":
			options = append(options, WithDisallowUnknownFields[record]())
		}
	}

	for _, hookName := range tc.PreHooks {
		switch hookName {
		case "split_exports":
			options = append(options, WithPreHook[record](splitExportsPreHook))
		}
	}

	for _, hookName := range tc.PostHooks {
		switch hookName {
		case "default_name":
			options = append(options, WithPostHook[record](defaultNamePostHook))
		}
	}

	if tc.CustomDecoder == "encoded_string" {
		options = append(options, WithCustomDecoder[record](encodedStringDecoder))
	}

	return options
}

func splitExportsPreHook(_ Context, payload map[string]any) (map[string]any, error) {
	raw, present := payload["exports"]
	if !present {
		return payload, nil
	}
	switch value := raw.(type) {
	case []any:
		return payload, nil
	case string:
		parts := strings.Split(value, ",")
		exports := make([]any, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				exports = append(exports, part)
			}
		}
		payload["exports"] = exports
		return payload, nil
	default:
		return nil, fmt.Errorf("exports must be a list or a comma separated string, got %T", raw)
	}
}

func defaultNamePostHook(ctx Context, rec *record) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	if rec.Name == "" {
		rec.Name = ctx.Subject
	}
	return nil
}

func encodedStringDecoder(ctx Context, payload map[string]any) (record, error) {
	var zero record
	raw, ok := payload["encoded"].(string)
	if !ok || raw == "" {
		return zero, fmt.Errorf("missing encoded record for %s", ctx)
	}
	var out record
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return zero, err
	}
	return out, nil
}

type fixture struct {
	Description string        `json:"description"`
	Cases       []fixtureCase `json:"cases"`
}

type fixtureCase struct {
	Name          string         `json:"name"`
	Kind          string         `json:"kind"`
	Subject       string         `json:"subject"`
	Input         map[string]any `json:"input"`
	Expect        record         `json:"expect"`
	ExpectErr     string         `json:"expectErr"`
	PreHooks      []string       `json:"preHooks"`
	PostHooks     []string       `json:"postHooks"`
	Options       []string       `json:"options"`
	CustomDecoder string         `json:"customDecoder"`
}

type record struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name"`
	Code     string   `json:"code,omitempty"`
	URI      string   `json:"uri,omitempty"`
	Package  string   `json:"package,omitempty"`
	Exports  []string `json:"exports,omitempty"`
	Optional bool     `json:"optional,omitempty"`
}

func loadFixture(t *testing.T, name string) fixture {
	t.Helper()
	path := filepath.Join("testdata", name)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read hydrate fixture %q: %v", name, err)
	}
	var fx fixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		t.Fatalf("failed to unmarshal hydrate fixture %q: %v", name, err)
	}
	return fx
}

func TestCompositePreHooks(t *testing.T) {
	decoder := NewDecoder[map[string]any](
		WithPreHook[map[string]any](Collect("values", "name", "deps")),
		WithPreHook[map[string]any](Each("deps", "dep", Rename(map[string]string{"npmSpecifier": "package"}))),
	)
	out, err := decoder.Decode(Context{Kind: "stage"}, map[string]any{
		"name":  "s1",
		"color": "red",
		"deps": map[string]any{
			"a": map[string]any{"npmSpecifier": "a-pkg"},
			"b": map[string]any{"npmSpecifier": "old", "package": "new"},
		},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := out["color"]; ok {
		t.Fatalf("expected unknown key to be collected, got %v", out)
	}
	if out["values"].(map[string]any)["color"] != "red" {
		t.Fatalf("expected color under values, got %v", out["values"])
	}
	deps := out["deps"].(map[string]any)
	if deps["a"].(map[string]any)["package"] != "a-pkg" {
		t.Fatalf("expected rename, got %v", deps["a"])
	}
	if b := deps["b"].(map[string]any); b["package"] != "new" || b["npmSpecifier"] != nil {
		t.Fatalf("expected current key to win, got %v", b)
	}
}
