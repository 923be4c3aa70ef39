package logger

import "testing"

func TestRedact(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"abc":             "****",
		"sk_live_1234567": "sk_l********",
	}
	for in, want := range cases {
		if got := Redact(in); got != want {
			t.Fatalf("Redact(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("WARNING").String() != "WARN" {
		t.Fatalf("warning should map to WARN")
	}
	if parseLevel("nonsense").String() != "INFO" {
		t.Fatalf("unknown levels default to INFO")
	}
}

func TestNamedNeverNil(t *testing.T) {
	if Named("session") == nil {
		t.Fatal("expected logger")
	}
}
