package language

import "testing"

func TestParseNormalizesCase(t *testing.T) {
	got, ok := Parse("  HI ")
	if !ok || got != Hindi {
		t.Fatalf("Parse() = %q, %v, want %q, true", got, ok, Hindi)
	}
	if _, ok := Parse("xx"); ok {
		t.Fatalf("Parse(xx) ok = true, want false")
	}
}

func TestLabelFallsBackToEnglish(t *testing.T) {
	if got := Code("zz").Label(); got != "English" {
		t.Fatalf("Label() = %q, want English", got)
	}
	if got := Tamil.Label(); got != "தமிழ் (Tamil)" {
		t.Fatalf("Label() = %q", got)
	}
}

func TestApologyAlwaysNonEmpty(t *testing.T) {
	for _, c := range All() {
		if Apology(c) == "" {
			t.Fatalf("Apology(%q) is empty", c)
		}
	}
	if Apology(Santali) != Apology(English) {
		t.Fatalf("Apology(Santali) should fall back to English")
	}
}
