package engine

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
)

func TestDiscretizeJSONObject(t *testing.T) {
	got := Discretize(context.Background(), `{"title":"Bees","body":"Buzz."}`, []string{"title", "body"}, nil)
	want := map[string]string{"title": "Bees", "body": "Buzz."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestDiscretizeJSONObjectNullBecomesEmpty(t *testing.T) {
	got := Discretize(context.Background(), `{"a":null,"b":"x"}`, []string{"a", "b"}, nil)
	if got["a"] != "" || got["b"] != "x" {
		t.Fatalf("unexpected %v", got)
	}
}

func TestDiscretizeJSONArrayPositional(t *testing.T) {
	got := Discretize(context.Background(), `["one", 2, true]`, []string{"a", "b", "c"}, nil)
	want := map[string]string{"a": "one", "b": "2", "c": "true"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestDiscretizeLineOriented(t *testing.T) {
	got := Discretize(context.Background(), "title: Bees\nbody: Buzz.", []string{"title", "body"}, nil)
	want := map[string]string{"title": "Bees", "body": "Buzz."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestDiscretizeLineValueKeepsLaterColons(t *testing.T) {
	got := Discretize(context.Background(), "url: https://example.com", []string{"url"}, nil)
	if got["url"] != "https://example.com" {
		t.Fatalf("unexpected %v", got)
	}
}

func TestDiscretizeSingletonFallback(t *testing.T) {
	got := Discretize(context.Background(), "  just plain text  ", []string{"summary"}, nil)
	if got["summary"] != "just plain text" {
		t.Fatalf("unexpected %v", got)
	}
}

func TestDiscretizeSentinelForUnassigned(t *testing.T) {
	got := Discretize(context.Background(), "title: Bees", []string{"title", "body"}, nil)
	if got["title"] != "Bees" {
		t.Fatalf("unexpected title %q", got["title"])
	}
	if got["body"] != DiscretizeSentinel {
		t.Fatalf("want sentinel, got %q", got["body"])
	}
}

func TestDiscretizeRoundTrip(t *testing.T) {
	want := map[string]string{"x": "1", "y": "two", "z": ""}
	encoded, _ := json.Marshal(want)
	got := Discretize(context.Background(), string(encoded), []string{"x", "y", "z"}, nil)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip broken: want %v, got %v", want, got)
	}
}

func TestDiscretizeDeterministic(t *testing.T) {
	text := "a: 1\nb: 2"
	names := []string{"a", "b"}
	first := Discretize(context.Background(), text, names, nil)
	second := Discretize(context.Background(), text, names, nil)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("nondeterministic: %v vs %v", first, second)
	}
}
