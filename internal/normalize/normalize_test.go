package normalize

import "testing"

func TestStringToCRLF(t *testing.T) {
	cases := []struct{ in, out string }{
		{"", ""},
		{"a\r\nb\r\n", "a\r\nb\r\n"},
		{"a\nb\n", "a\r\nb\r\n"},
		{"a\rb\r", "a\r\nb\r\n"},
		{"a\r\nb\nc\r\n", "a\r\nb\r\nc\r\n"},
		{"no newlines", "no newlines"},
	}
	for _, c := range cases {
		if got := StringToCRLF(c.in); got != c.out {
			t.Errorf("StringToCRLF(%q) = %q, want %q", c.in, got, c.out)
		}
	}
}

func TestToCRLF(t *testing.T) {
	got := ToCRLF([]byte("From: a@b\nSubject: x\n\nhi\n"))
	want := "From: a@b\r\nSubject: x\r\n\r\nhi\r\n"
	if string(got) != want {
		t.Errorf("ToCRLF = %q, want %q", got, want)
	}
}

func TestStringToCRLFIdempotent(t *testing.T) {
	msgs := []string{
		"a\nb\nc\n",
		"a\r\nb\r\n",
		"mixed\r\nendings\nhere\r",
	}
	for _, m := range msgs {
		once := StringToCRLF(m)
		twice := StringToCRLF(once)
		if once != twice {
			t.Errorf("StringToCRLF not idempotent for %q: %q != %q",
				m, once, twice)
		}
	}
}
