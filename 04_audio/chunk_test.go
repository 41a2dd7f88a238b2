package audio

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"One sentence", []string{"One sentence"}},
		{"First. Second! Third? Fourth", []string{"First.", "Second!", "Third?", "Fourth"}},
		{"Dr.Who stays. U.S. wins.", []string{"Dr.Who stays.", "U.S.", "wins."}},
		{"Spaces.   Many\tof them.", []string{"Spaces.", "Many\tof them."}},
		{"  Trimmed!  ", []string{"Trimmed!"}},
	}
	for _, tt := range tests {
		if got := SplitSentences(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitSentences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChunkRespectsBudget(t *testing.T) {
	text := "Aaaa aaaa. Bbbb bbbb bbbb. Cc. Dddd dddd dddd dddd. Ee!"
	tok := RuneTokenizer{}
	const budget = 30

	chunks := Chunk(text, tok, budget)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %q", chunks)
	}
	for _, c := range chunks {
		if c == "" {
			t.Error("empty chunk")
		}
		sentences := SplitSentences(c)
		n := 0
		for _, s := range sentences {
			n += tok.Count(s)
		}
		if n > budget && len(sentences) > 1 {
			t.Errorf("chunk %q has %d tokens over budget %d", c, n, budget)
		}
	}

	// Joining the chunks gives back the sentence sequence.
	if got, want := SplitSentences(strings.Join(chunks, " ")), SplitSentences(text); !reflect.DeepEqual(got, want) {
		t.Errorf("rejoined sentences = %q, want %q", got, want)
	}
}

func TestChunkGreedyPacking(t *testing.T) {
	// Each sentence is 5 runes: "Aaaa." etc.
	text := "Aaaa. Bbbb. Cccc. Dddd. Eeee."
	got := Chunk(text, RuneTokenizer{}, 10)
	want := []string{"Aaaa. Bbbb.", "Cccc. Dddd.", "Eeee."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Chunk = %q, want %q", got, want)
	}
}

func TestChunkOversizedSentenceStandsAlone(t *testing.T) {
	long := "This sentence is far longer than the tiny budget allows."
	text := "Hi. " + long + " Bye."
	got := Chunk(text, RuneTokenizer{}, 10)
	want := []string{"Hi.", long, "Bye."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Chunk = %q, want %q", got, want)
	}
}

func TestChunkOversizedFirstSentenceNoEmptyChunk(t *testing.T) {
	long := "Another sentence that blows straight through the budget."
	got := Chunk(long, RuneTokenizer{}, 5)
	if !reflect.DeepEqual(got, []string{long}) {
		t.Errorf("Chunk = %q", got)
	}
}

func TestChunkEmpty(t *testing.T) {
	if got := Chunk("  ", RuneTokenizer{}, 500); got != nil {
		t.Errorf("Chunk of blank text = %q", got)
	}
}

type wordTokenizer struct{}

func (wordTokenizer) Count(s string) int { return len(strings.Fields(s)) }

func TestChunkUsesTokenizer(t *testing.T) {
	text := "one two. three four. five six."
	got := Chunk(text, wordTokenizer{}, 4)
	want := []string{"one two. three four.", "five six."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Chunk = %q, want %q", got, want)
	}
}
