package catalog

import (
	"errors"
	"strings"
	"testing"
)

func TestParsePayloadPythonDict(t *testing.T) {
	f, err := ParsePayload(`{'Title': 'The Elephant Bird', 'Author': 'Arefa Tehsin', 'Labels': ['birds', 'jungle'], 'Read Level': 2, 'Hyperlink': 'https://example.org/eb'}`)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if f["Title"] != "The Elephant Bird" {
		t.Errorf("Title: %q", f["Title"])
	}
	if f["Labels"] != "birds, jungle" {
		t.Errorf("Labels: %q", f["Labels"])
	}
	if f["Read Level"] != "2" {
		t.Errorf("Read Level: %q", f["Read Level"])
	}
}

func TestParsePayloadJSONFallback(t *testing.T) {
	// lowercase true is not a Python literal, so only the JSON pass accepts it
	f, err := ParsePayload(`{"Title": "JSON Book", "Available": true}`)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if f["Title"] != "JSON Book" {
		t.Errorf("Title: %q", f["Title"])
	}
	if f["Available"] != "true" {
		t.Errorf("Available: %q", f["Available"])
	}
}

func TestParsePayloadUnparseable(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"free text", "not a dict at all"},
		{"python list", "[1, 2]"},
		{"json array", `["a", "b"]`},
		{"empty", ""},
		{"truncated dict", "{'Title': 'x'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePayload(tt.raw); !errors.Is(err, ErrUnparseable) {
				t.Fatalf("expected ErrUnparseable, got %v", err)
			}
		})
	}
}

func TestParsePayloadApostrophe(t *testing.T) {
	f, err := ParsePayload(`{'Title': 'Grandma\'s Glasses'}`)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if f["Title"] != "Grandma's Glasses" {
		t.Fatalf("Title: %q", f["Title"])
	}
}

func TestParsePayloadNoneIsMissing(t *testing.T) {
	f, err := ParsePayload(`{'Title': 'X', 'Author': None}`)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	rec := f.Record()
	if rec.Author != "No Author" {
		t.Fatalf("None value should fall back to default, got %q", rec.Author)
	}
}

func TestRecordDefaults(t *testing.T) {
	rec := Fields{}.Record()
	if rec.Title != "No Title" {
		t.Errorf("Title: %q", rec.Title)
	}
	if rec.Author != "No Author" {
		t.Errorf("Author: %q", rec.Author)
	}
	if rec.Labels != "No Labels" {
		t.Errorf("Labels: %q", rec.Labels)
	}
	if rec.ReadLevel != "No Read level" {
		t.Errorf("ReadLevel: %q", rec.ReadLevel)
	}
	if rec.Hyperlink != "No Hyperlink" {
		t.Errorf("Hyperlink: %q", rec.Hyperlink)
	}
}

func TestCoerceValues(t *testing.T) {
	f, err := ParsePayload(`{'i': 42, 'f': 2.5, 'b': True, 'nested': ['a', ['b', 'c']], 't': ('x', 'y')}`)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	want := map[string]string{
		"i":      "42",
		"f":      "2.5",
		"b":      "true",
		"nested": "a, b, c",
		"t":      "x, y",
	}
	for k, w := range want {
		if f[k] != w {
			t.Errorf("%s: got %q, want %q", k, f[k], w)
		}
	}
}

func TestPyLiteralStrings(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"double quoted", `"plain"`, "plain"},
		{"u prefix", `u'legacy'`, "legacy"},
		{"hex escape", `'\x41'`, "A"},
		{"unicode escape", `'é'`, "é"},
		{"long unicode escape", `'\U0001F600'`, "\U0001F600"},
		{"octal escape", `'\101'`, "A"},
		{"newline escape", `'a\nb'`, "a\nb"},
		{"unknown escape keeps backslash", `'\q'`, `\q`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parsePyLiteral(tt.in)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if v.(string) != tt.want {
				t.Fatalf("got %q, want %q", v, tt.want)
			}
		})
	}
}

func TestPyLiteralNumbers(t *testing.T) {
	v, err := parsePyLiteral("42")
	if err != nil || v.(int64) != 42 {
		t.Fatalf("int: %v %v", v, err)
	}
	v, err = parsePyLiteral("-3.14")
	if err != nil || v.(float64) != -3.14 {
		t.Fatalf("float: %v %v", v, err)
	}
	v, err = parsePyLiteral("1e3")
	if err != nil || v.(float64) != 1000 {
		t.Fatalf("exponent: %v %v", v, err)
	}
	v, err = parsePyLiteral("1_000")
	if err != nil || v.(int64) != 1000 {
		t.Fatalf("grouped digits: %v %v", v, err)
	}
}

func TestPyLiteralStructures(t *testing.T) {
	v, err := parsePyLiteral(`{'a': {'b': [1, 2,]}, 'c': (),}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m := v.(map[string]any)
	inner := m["a"].(map[string]any)["b"].([]any)
	if len(inner) != 2 || inner[0].(int64) != 1 {
		t.Fatalf("nested list: %v", inner)
	}
	if len(m["c"].([]any)) != 0 {
		t.Fatalf("empty tuple: %v", m["c"])
	}
}

func TestPyLiteralBoolNone(t *testing.T) {
	v, err := parsePyLiteral("True")
	if err != nil || v.(bool) != true {
		t.Fatalf("True: %v %v", v, err)
	}
	v, err = parsePyLiteral("None")
	if err != nil || v != nil {
		t.Fatalf("None: %v %v", v, err)
	}
	if _, err := parsePyLiteral("true"); err == nil {
		t.Fatal("lowercase true must not parse")
	}
}

func TestPyLiteralRejects(t *testing.T) {
	tests := []struct {
		name, in string
	}{
		{"trailing content", "{'a': 1} x"},
		{"unterminated string", "'abc"},
		{"missing colon", "{'a' 1}"},
		{"bare identifier", "Nope"},
		{"deep nesting", strings.Repeat("[", 300) + "1" + strings.Repeat("]", 300)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parsePyLiteral(tt.in); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}
