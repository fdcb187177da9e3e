package normalize

import (
	"strings"

	"github.com/ubtguoyi/writing/internal/domain"
)

// Grading is the normalized answer of the grading workflow.
type Grading struct {
	Scores         domain.ScoreSet
	WrongChars     []domain.WrongChar
	WrongSentences []domain.WrongSentence
	WrongWords     []domain.WrongWord
	Improvements   []domain.ImprovementItem
	// RecoveredFields names the fields that needed best-effort repair.
	RecoveredFields []string
}

// NormalizeGrading maps every field of the grading outputs to canonical
// records. Lists are unique by their record key within the result.
func NormalizeGrading(outputs map[string]any) Grading {
	g := Grading{Scores: ReconcileScores(outputs)}
	note := func(field string, low bool) {
		if low {
			g.RecoveredFields = append(g.RecoveredFields, field)
		}
	}

	chars := WrongChars(firstPresent(outputs, "wrong_char", "wrongChar", "wrong_chars"))
	note(wrongCharKind.field, chars.Recovered())
	sentences := WrongSentences(firstPresent(outputs, "wrong_sentence", "wrongSentence", "wrong_sentences"))
	note(wrongSentenceKind.field, sentences.Recovered())
	words := WrongWords(firstPresent(outputs, "wrong_words", "wrongWords", "wrong_word"))
	note(wrongWordKind.field, words.Recovered())
	improvements := Improvements(firstPresent(outputs, "improvement_list", "improvementList", "improvement"))
	note(improvementKind.field, improvements.Recovered())

	g.WrongChars = chars.Items
	g.WrongSentences = sentences.Items
	g.WrongWords = words.Items
	g.Improvements = improvements.Items

	if analysis := pickText(outputs, "error_analysis", "errorAnalysis"); analysis != "" {
		w, s := ParseErrorAnalysis(analysis)
		g.WrongWords = append(g.WrongWords, w...)
		g.WrongSentences = append(g.WrongSentences, s...)
		note("error_analysis", len(w)+len(s) > 0)
	}

	g.WrongChars = dedupBy(g.WrongChars, func(c domain.WrongChar) string { return c.WrongChar })
	g.WrongSentences = dedupBy(g.WrongSentences, func(s domain.WrongSentence) string { return s.Sentence })
	g.WrongWords = dedupBy(g.WrongWords, func(w domain.WrongWord) string { return w.WrongWords })
	return g
}

// OCRText extracts the recognized essay text from OCR outputs.
func OCRText(p Payload) (string, bool) {
	if p.Kind != PayloadOutputs {
		return "", false
	}
	v, ok := pick(p.Outputs, "text", "output", "content", "result", "ocr_text", "essay")
	if !ok {
		return "", false
	}
	switch t := coerceJSON(v).(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := text(e); s != "" {
				parts = append(parts, s)
			}
		}
		s := strings.Join(parts, "\n")
		return s, s != ""
	case map[string]any:
		s := pickText(t, "text", "content")
		return s, s != ""
	default:
		// keep the raw string: numeric-looking text must not be reformatted
		s := strings.TrimSpace(text(v))
		return s, s != ""
	}
}
