package policy

import (
	"reflect"
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactReportsKinds(t *testing.T) {
	r := Redact("my key is sk-proj-abcdefghijklmnop1234 and my card 4242-4242-4242-4242")
	if want := []string{"secret", "card"}; !reflect.DeepEqual(r.Kinds, want) {
		t.Fatalf("Kinds = %v, want %v", r.Kinds, want)
	}
	if strings.Contains(r.Text, "sk-proj") {
		t.Fatalf("secret not masked: %q", r.Text)
	}
}

func TestRedactLeavesPlainText(t *testing.T) {
	out, changed := RedactPII("Where is order forty two?")
	if changed || out != "Where is order forty two?" {
		t.Fatalf("RedactPII() = %q, %v", out, changed)
	}
}
