package prompt

import (
	"sort"
	"strings"
	"testing"
)

func TestSubstituteReplacesAllOccurrences(t *testing.T) {
	got := Substitute("Hi {name}. Again: {name}!", map[string]string{"name": "Alice"})
	want := "Hi Alice. Again: Alice!"
	if got != want {
		t.Fatalf("Substitute = %q, want %q", got, want)
	}
}

func TestSubstituteLeavesUnknownKeysVerbatim(t *testing.T) {
	got := Substitute("Hello {name}, your id is {id}", map[string]string{"name": "Alice"})
	want := "Hello Alice, your id is {id}"
	if got != want {
		t.Fatalf("Substitute = %q, want %q", got, want)
	}
}

func TestSubstituteIdempotentPerKey(t *testing.T) {
	vars := map[string]string{"name": "Bob"}
	once := Substitute("greetings {name}", vars)
	if strings.Contains(once, "{name}") {
		t.Fatalf("placeholder survived substitution: %q", once)
	}
	twice := Substitute(once, vars)
	if twice != once {
		t.Fatalf("second substitution changed output: %q != %q", twice, once)
	}
}

func TestSubstituteEmptyVars(t *testing.T) {
	tmpl := "nothing {to} see"
	if got := Substitute(tmpl, nil); got != tmpl {
		t.Fatalf("Substitute with nil vars = %q, want unchanged", got)
	}
}

func TestExtractVariablesDeduplicates(t *testing.T) {
	vars := ExtractVariables("{a} and {b}, then {a} again and { c }")
	sort.Strings(vars)
	want := []string{"a", "b", "c"}
	if len(vars) != len(want) {
		t.Fatalf("ExtractVariables = %v, want %v", vars, want)
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Fatalf("ExtractVariables = %v, want %v", vars, want)
		}
	}
}

func TestExtractVariablesNone(t *testing.T) {
	if vars := ExtractVariables("no placeholders here"); len(vars) != 0 {
		t.Fatalf("expected no variables, got %v", vars)
	}
}
