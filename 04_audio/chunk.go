package audio

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer measures text against the synthesizer's input budget.
type Tokenizer interface {
	Count(s string) int
}

// RuneTokenizer approximates the phoneme token count by the rune count,
// which is never lower for English text.
type RuneTokenizer struct{}

func (RuneTokenizer) Count(s string) int {
	return utf8.RuneCountInString(s)
}

// SplitSentences cuts text at whitespace that follows '.', '!' or '?'.
// The punctuation stays with its sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	var prev rune
	for i, r := range text {
		if unicode.IsSpace(r) && (prev == '.' || prev == '!' || prev == '?') {
			if s := strings.TrimSpace(text[start:i]); s != "" {
				sentences = append(sentences, s)
			}
			start = i
		}
		prev = r
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// Chunk packs sentences greedily into chunks of at most maxTokens. A
// sentence that alone exceeds the budget becomes a chunk of its own; no
// chunk is ever empty.
func Chunk(text string, tok Tokenizer, maxTokens int) []string {
	var (
		chunks  []string
		current []string
		count   int
	)
	for _, sentence := range SplitSentences(text) {
		n := tok.Count(sentence)
		if len(current) > 0 && count+n > maxTokens {
			chunks = append(chunks, strings.Join(current, " "))
			current, count = nil, 0
		}
		current = append(current, sentence)
		count += n
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
