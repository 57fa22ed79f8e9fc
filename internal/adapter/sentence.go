package adapter

import (
	"strings"
	"unicode"

	"github.com/coreforge/agentd/pkg/models"
)

// sentenceTerminators are the punctuation runes that end a sentence under
// the fallback splitting policy (spec §4.8): ASCII terminators plus their
// CJK full-width equivalents.
var sentenceTerminators = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true,
}

// splitSentences breaks text on a terminator followed by whitespace or
// end-of-input (spec §4.8). A trailing run of text with no terminator is
// still returned as a final sentence.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	for i := 0; i < len(runes); i++ {
		if !sentenceTerminators[runes[i]] {
			continue
		}
		end := i + 1
		atEOF := end == len(runes)
		if !atEOF && !unicode.IsSpace(runes[end]) {
			continue
		}
		if sentence := strings.TrimSpace(string(runes[start:end])); sentence != "" {
			sentences = append(sentences, sentence)
		}
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		start = end
		i = end - 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// emitSentenceFallback is the adapter's fallback RunStream path (spec §4.7,
// §4.8, redesign note in §9) for a driver that hands back its answer as one
// blob instead of incremental events: it splits the blob into sentences,
// emits every sentence but the last as a thought, and promotes the last to
// the final answer.
func emitSentenceFallback(emit func(models.ReasoningStep) bool, text string) bool {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return emit(models.ReasoningStep{Kind: models.StepFinalAnswer, Text: text})
	}
	for _, s := range sentences[:len(sentences)-1] {
		if !emit(models.ReasoningStep{Kind: models.StepThought, Text: s}) {
			return false
		}
	}
	return emit(models.ReasoningStep{Kind: models.StepFinalAnswer, Text: sentences[len(sentences)-1]})
}
