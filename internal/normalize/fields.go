package normalize

import (
	"strings"

	"github.com/ubtguoyi/writing/internal/domain"
)

// Confidence tells trustworthy data from best-effort recovery.
type Confidence string

const (
	// ConfidenceHigh means every record came from strict JSON parsing.
	ConfidenceHigh Confidence = "parsed"
	// ConfidenceLow means at least one record was recovered by repair.
	ConfidenceLow Confidence = "recovered"
)

// Result is a normalized field.
type Result[T any] struct {
	Items      []T
	Confidence Confidence
}

// Recovered reports whether any item came from the repair path.
func (r Result[T]) Recovered() bool { return r.Confidence == ConfidenceLow }

func normalizeField[T any](k recordKind[T], raw any) Result[T] {
	items, low := k.collect(raw, false, 0)
	if items == nil {
		items = []T{}
	}
	res := Result[T]{Items: items, Confidence: ConfidenceHigh}
	if low {
		res.Confidence = ConfidenceLow
	}
	return res
}

func repairField[T any](k recordKind[T], raw string) []T {
	items := k.repair(raw, 0)
	if items == nil {
		return []T{}
	}
	return items
}

var wrongCharKind = newRecordKind(recordKind[domain.WrongChar]{
	field:       "wrong_char",
	listKeys:    []string{"wrong_char_list", "wrongCharList", "wrong_chars", "wrongChars", "wrong_char"},
	markers:     []string{"wrong_char", "wrongChar", "correct_char", "correctChar"},
	primary:     "wrong_char",
	primaryKeys: []string{"wrong_char", "wrongChar"},
	required:    []string{"correct_char", "wrong_type"},
	build: func(m map[string]any, recovered bool) domain.WrongChar {
		return domain.WrongChar{
			WrongChar:   pickText(m, "wrong_char", "wrongChar"),
			CorrectChar: pickText(m, "correct_char", "correctChar"),
			WrongType:   pickText(m, "wrong_type", "wrongType", "error_type"),
			Context:     pickText(m, "context", "sentence"),
			Recovered:   recovered || toBool(m["recovered"]),
		}
	},
}, "wrong_char", "correct_char", "wrong_type", "context")

var wrongSentenceKind = newRecordKind(recordKind[domain.WrongSentence]{
	field:       "wrong_sentence",
	listKeys:    []string{"wrong_sentence_list", "wrongSentenceList", "wrong_sentences", "wrongSentences", "wrong_sentence"},
	markers:     []string{"sentence", "wrong_sentence", "think", "error_type", "errorType", "analysis", "correction"},
	primary:     "sentence",
	primaryKeys: []string{"sentence", "wrong_sentence"},
	required:    []string{"error_type"},
	build: func(m map[string]any, recovered bool) domain.WrongSentence {
		return domain.WrongSentence{
			Sentence:   pickText(m, "sentence", "wrong_sentence"),
			Correction: pickText(m, "correction", "correct_sentence", "revised_sentence", "modified_sentence"),
			ErrorType:  pickText(m, "error_type", "errorType", "wrong_type"),
			Analysis:   pickText(m, "analysis", "think", "reason"),
			Recovered:  recovered || toBool(m["recovered"]),
		}
	},
}, "sentence", "correction", "error_type", "think", "analysis")

var wrongWordKind = newRecordKind(recordKind[domain.WrongWord]{
	field:       "wrong_words",
	listKeys:    []string{"wrong_words_list", "wrongWordsList", "wrong_words", "wrongWords"},
	markers:     []string{"wrong_words", "wrongWords", "wrong_word", "correct_words", "correctWords"},
	primary:     "wrong_words",
	primaryKeys: []string{"wrong_words", "wrongWords", "wrong_word"},
	required:    []string{"correct_words", "wrong_type"},
	build: func(m map[string]any, recovered bool) domain.WrongWord {
		return domain.WrongWord{
			WrongWords:   pickText(m, "wrong_words", "wrongWords", "wrong_word"),
			CorrectWords: pickText(m, "correct_words", "correctWords", "correct_word"),
			WrongType:    pickText(m, "wrong_type", "wrongType"),
			WrongReason:  pickText(m, "wrong_reason", "wrongReason", "reason"),
			Sentence:     pickText(m, "sentence"),
			Recovered:    recovered || toBool(m["recovered"]),
		}
	},
}, "wrong_words", "correct_words", "wrong_type", "wrong_reason", "sentence")

var improvementKind = newRecordKind(recordKind[domain.ImprovementItem]{
	field:    "improvement_list",
	listKeys: []string{"improvement_list", "improvementList", "improvements"},
	markers:  []string{"improvement_word", "improvementWord", "improvement_type", "improvementType",
		"improved_sentence", "improvedSentence", "recommended_word", "recommended_words", "recommendedWords"},
	primary:     "sentence",
	primaryKeys: []string{"sentence", "original_sentence"},
	required:    []string{"improvement_word", "improvement_type"},
	build: func(m map[string]any, recovered bool) domain.ImprovementItem {
		return domain.ImprovementItem{
			Sentence:         pickText(m, "sentence", "original_sentence"),
			ImprovementWord:  pickText(m, "improvement_word", "improvementWord"),
			ImprovementType:  pickText(m, "improvement_type", "improvementType"),
			RecommendedWords: wordList(m, "recommended_word", "recommended_words", "recommendedWords"),
			ImprovedSentence: pickText(m, "improved_sentence", "improvedSentence"),
			WordClass:        pickText(m, "word_class", "wordClass"),
			Recovered:        recovered || toBool(m["recovered"]),
		}
	},
}, "sentence", "improvement_word", "improvement_type", "recommended_word", "recommended_words", "improved_sentence", "word_class")

var wordSeparators = strings.NewReplacer("，", ",", "、", ",", "/", ",", "；", ",", ";", ",")

// wordList accepts a list or a separated string of words.
func wordList(m map[string]any, keys ...string) []string {
	v, ok := pick(m, keys...)
	if !ok {
		return nil
	}
	var raw []string
	switch t := coerceJSON(v).(type) {
	case []any:
		for _, e := range t {
			raw = append(raw, text(e))
		}
	default:
		raw = strings.Split(wordSeparators.Replace(text(t)), ",")
	}
	var out []string
	for _, w := range raw {
		if w = strings.TrimSpace(strings.Trim(strings.TrimSpace(w), `'"`)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// WrongChars normalizes the wrong_char field.
func WrongChars(raw any) Result[domain.WrongChar] { return normalizeField(wrongCharKind, raw) }

// WrongSentences normalizes the wrong_sentence field.
func WrongSentences(raw any) Result[domain.WrongSentence] {
	return normalizeField(wrongSentenceKind, raw)
}

// WrongWords normalizes the wrong_words field.
func WrongWords(raw any) Result[domain.WrongWord] { return normalizeField(wrongWordKind, raw) }

// Improvements normalizes the improvement_list field.
func Improvements(raw any) Result[domain.ImprovementItem] {
	return normalizeField(improvementKind, raw)
}

// RepairWrongChars recovers wrong characters from text strict parsing rejected.
func RepairWrongChars(raw string) []domain.WrongChar { return repairField(wrongCharKind, raw) }

// RepairWrongSentences recovers wrong sentences from text strict parsing rejected.
func RepairWrongSentences(raw string) []domain.WrongSentence {
	return repairField(wrongSentenceKind, raw)
}

// RepairWrongWords recovers wrong words from text strict parsing rejected.
func RepairWrongWords(raw string) []domain.WrongWord { return repairField(wrongWordKind, raw) }

// RepairImprovements recovers improvement items from text strict parsing rejected.
func RepairImprovements(raw string) []domain.ImprovementItem {
	return repairField(improvementKind, raw)
}

// dedupBy keeps the first item for each non-empty key.
func dedupBy[T any](items []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, it := range items {
		k := key(it)
		if k != "" {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, it)
	}
	return out
}
