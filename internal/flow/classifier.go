package flow

import (
	"context"
	"strings"
	"unicode"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// KeywordClassifier maps common phrasings to a selection mode. It is the
// default ModeClassifier and the fallback for model-backed classifiers.
type KeywordClassifier struct{}

var (
	mixPhrases = []string{
		"mix and match", "mix", "different", "not the same", "separate", "separately",
		"individual", "individually", "customize", "varied",
	}
	samePhrases = []string{
		"apply to all", "same", "identical",
	}
	sequentialPhrases = []string{
		"each", "one by one", "one at a time", "per line", "sequential", "line by line", "on its own",
	}
	allPhrases = []string{
		"all", "every", "everyone", "both", "whole family",
	}
)

// ClassifyMode returns the mode the answer asks for, or ErrUnclassifiedAnswer.
func (KeywordClassifier) ClassifyMode(_ context.Context, answer string) (models.SelectionMode, error) {
	normalized := normalizeAnswer(answer)
	switch strings.TrimSpace(normalized) {
	case "apply to all":
		return models.ModeApplyToAll, nil
	case "mix and match":
		return models.ModeMixAndMatch, nil
	}
	// Precedence: contrast words, then sameness, then per-line words, then
	// quantity words. "one by one for all of them" is mix and match while
	// "the same for each line" applies to all.
	switch {
	case containsPhrase(normalized, mixPhrases):
		return models.ModeMixAndMatch, nil
	case containsPhrase(normalized, samePhrases):
		return models.ModeApplyToAll, nil
	case containsPhrase(normalized, sequentialPhrases):
		return models.ModeMixAndMatch, nil
	case containsPhrase(normalized, allPhrases):
		return models.ModeApplyToAll, nil
	}
	return models.ModeUnknown, models.ErrUnclassifiedAnswer
}

// normalizeAnswer lowercases and replaces punctuation with spaces, padding the
// result so phrases can be matched on word boundaries.
func normalizeAnswer(s string) string {
	var b strings.Builder
	b.WriteByte(' ')
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteByte(' ')
	return " " + strings.Join(strings.Fields(b.String()), " ") + " "
}

func containsPhrase(normalized string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(normalized, " "+p+" ") {
			return true
		}
	}
	return false
}
