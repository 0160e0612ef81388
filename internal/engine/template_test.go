package engine

import (
	"errors"
	"reflect"
	"testing"
)

func TestRenderTemplateSubstitution(t *testing.T) {
	got, err := RenderTemplate("Hello {{name}}, welcome to {{place}}!", map[string]any{
		"name":  "World",
		"place": "Go",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "Hello World, welcome to Go!" {
		t.Fatalf("unexpected render %q", got)
	}
}

func TestRenderTemplateAttributeAndIndexAccess(t *testing.T) {
	ctx := map[string]any{
		"user":  map[string]any{"email": "a@example.com"},
		"items": []any{"first", "second"},
	}
	got, err := RenderTemplate("{{user.email}} picked {{items[1]}}", ctx)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "a@example.com picked second" {
		t.Fatalf("unexpected render %q", got)
	}
}

func TestRenderTemplateUndefinedVariable(t *testing.T) {
	_, err := RenderTemplate("Hello {{missing}}", map[string]any{"name": "x"})
	var undef *TemplateUndefinedError
	if !errors.As(err, &undef) {
		t.Fatalf("want TemplateUndefinedError, got %v", err)
	}
	if undef.Name != "missing" {
		t.Fatalf("wrong name %q", undef.Name)
	}
}

func TestRenderTemplateCanonicalValues(t *testing.T) {
	ctx := map[string]any{
		"n":    float64(42),
		"f":    2.5,
		"ok":   true,
		"none": nil,
	}
	got, err := RenderTemplate("{{n}}|{{f}}|{{ok}}|{{none}}|", ctx)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "42|2.5|true||" {
		t.Fatalf("unexpected render %q", got)
	}
}

func TestRenderTemplateIgnoresUnreferencedEntries(t *testing.T) {
	got, err := RenderTemplate("plain text", map[string]any{"unused": 1})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "plain text" {
		t.Fatalf("unexpected render %q", got)
	}
}

func TestUndeclaredNames(t *testing.T) {
	names := UndeclaredNames("{{a}} and {{b.field}} and {{a}} and {{items[0]}}")
	want := []string{"a", "b", "items"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("want %v, got %v", want, names)
	}
}

func TestUndeclaredNamesEmptyTemplate(t *testing.T) {
	if names := UndeclaredNames("no placeholders here"); len(names) != 0 {
		t.Fatalf("want none, got %v", names)
	}
}

func TestRenderCompleteness(t *testing.T) {
	// Every undeclared name present in the context means render cannot fail
	// with an undefined error.
	template := "{{x}} {{y.z}}"
	ctx := map[string]any{
		"x": "1",
		"y": map[string]any{"z": "2"},
	}
	for _, name := range UndeclaredNames(template) {
		if _, ok := ctx[name]; !ok {
			t.Fatalf("context missing %q", name)
		}
	}
	if _, err := RenderTemplate(template, ctx); err != nil {
		t.Fatalf("render: %v", err)
	}
}
