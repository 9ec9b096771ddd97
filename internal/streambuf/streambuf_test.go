package streambuf

import (
	"math/rand"
	"strings"
	"testing"
)

const (
	// WTF-8 encodings of the two halves of U+1F600 (grinning face).
	highHalf = "\xed\xa0\xbd" // U+D83D
	lowHalf  = "\xed\xb8\x80" // U+DE00
)

func TestProcessBuffersTrailingHighSurrogate(t *testing.T) {
	b := New()

	out := b.Process("Hello " + highHalf)
	if out != "Hello " {
		t.Fatalf("Process returned %q, want %q", out, "Hello ")
	}

	out = b.Process(lowHalf + " world")
	if out != "\U0001F600 world" {
		t.Fatalf("Process returned %q, want %q", out, "\U0001F600 world")
	}

	if got := b.Flush(); got != "" {
		t.Fatalf("Flush returned %q, want empty", got)
	}
}

func TestFlushReplacesLoneHighSurrogate(t *testing.T) {
	b := New()

	out := b.Process("truncated " + highHalf)
	if out != "truncated " {
		t.Fatalf("Process returned %q", out)
	}
	if got := b.Flush(); got != "�" {
		t.Fatalf("Flush returned %q, want U+FFFD", got)
	}
}

func TestSplitUTF8RuneAcrossChunks(t *testing.T) {
	b := New()
	full := "héllo 😀 wörld"
	raw := []byte(full)

	// Split after every single byte: the cruelest possible chunking.
	var sb strings.Builder
	for _, c := range raw {
		sb.WriteString(b.Process(string([]byte{c})))
	}
	sb.WriteString(b.Flush())

	if sb.String() != full {
		t.Fatalf("reassembled %q, want %q", sb.String(), full)
	}
}

func TestSplitInvarianceRandomPartitions(t *testing.T) {
	inputs := []string{
		"plain ascii only",
		"emoji 😀😀😀 heavy 🎉 text",
		"mixed ascii, ümlauts and 漢字 with 𝔘𝔫𝔦𝔠𝔬𝔡𝔢",
		highHalf + lowHalf + " leading pair",
		"trailing pair " + highHalf + lowHalf,
	}
	rng := rand.New(rand.NewSource(42))

	for _, input := range inputs {
		want := canonical(input)
		for trial := 0; trial < 50; trial++ {
			b := New()
			var sb strings.Builder
			raw := []byte(input)
			for len(raw) > 0 {
				n := 1 + rng.Intn(len(raw))
				sb.WriteString(b.Process(string(raw[:n])))
				raw = raw[n:]
			}
			sb.WriteString(b.Flush())
			if sb.String() != want {
				t.Fatalf("input %q trial %d: got %q, want %q", input, trial, sb.String(), want)
			}
		}
	}
}

// canonical runs the whole input through one Process+Flush; the invariant is
// that every partition of the input yields the same output as no partition.
func canonical(s string) string {
	b := New()
	return b.Process(s) + b.Flush()
}

func TestUnpairedSurrogatesBecomeReplacement(t *testing.T) {
	b := New()

	// Two high surrogates in a row: the first can never pair.
	out := b.Process(highHalf + highHalf)
	if out != "�" {
		t.Fatalf("Process returned %q, want single U+FFFD", out)
	}
	if got := b.Flush(); got != "�" {
		t.Fatalf("Flush returned %q, want U+FFFD", got)
	}

	// A lone low surrogate has nothing to pair with.
	b = New()
	out = b.Process(lowHalf+"tail") + b.Flush()
	if out != "�tail" {
		t.Fatalf("got %q, want %q", out, "�tail")
	}
}

func TestEmptyChunks(t *testing.T) {
	b := New()
	if out := b.Process(""); out != "" {
		t.Fatalf("Process(\"\") = %q", out)
	}
	if out := b.Process("x"); out != "x" {
		t.Fatalf("Process(\"x\") = %q", out)
	}
	if out := b.Process(""); out != "" {
		t.Fatalf("Process(\"\") = %q", out)
	}
	if out := b.Flush(); out != "" {
		t.Fatalf("Flush() = %q", out)
	}
}

func TestReplacementCharacterPassesThrough(t *testing.T) {
	b := New()
	out := b.Process("a�b") + b.Flush()
	if out != "a�b" {
		t.Fatalf("got %q, want %q", out, "a�b")
	}
}
