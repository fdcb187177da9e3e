package normalize

import (
	"math"
	"regexp"
	"strings"

	"github.com/ubtguoyi/writing/internal/domain"
)

// MaxDimensionScore is the upper bound of one grading dimension.
const MaxDimensionScore = 20

var (
	looseScore  = regexp.MustCompile(`score_(?:sum|num)['"]?\s*[:=]\s*['"]?(-?\d+(?:\.\d+)?)`)
	looseReason = regexp.MustCompile(`reason['"]?\s*:\s*['"]([^'"]*)['"]`)
)

// scoreSources maps upstream fields to dimensions. Several sources feeding
// one dimension are averaged.
var scoreSources = []struct {
	dim  func(*domain.ScoreSet) *domain.DimensionScore
	keys []string
}{
	{func(s *domain.ScoreSet) *domain.DimensionScore { return &s.Presentation }, []string{"base"}},
	{func(s *domain.ScoreSet) *domain.DimensionScore { return &s.Structure }, []string{"construction"}},
	{func(s *domain.ScoreSet) *domain.DimensionScore { return &s.Content }, []string{"content", "content_score"}},
	{func(s *domain.ScoreSet) *domain.DimensionScore { return &s.Language }, []string{"language"}},
	{func(s *domain.ScoreSet) *domain.DimensionScore { return &s.Theme }, []string{"theme"}},
}

// ReconcileScores extracts the five dimension scores from grading outputs.
// Absent sources score 0 with an empty reason; the total is the plain sum.
func ReconcileScores(outputs map[string]any) domain.ScoreSet {
	var set domain.ScoreSet
	for _, src := range scoreSources {
		var (
			values  []float64
			reasons []string
		)
		for _, key := range src.keys {
			v, ok := outputs[key]
			if !ok || v == nil {
				continue
			}
			for _, sub := range scoreObjects(v) {
				if f, ok := toFloat(firstPresent(sub, "score_sum", "score_num", "score")); ok {
					values = append(values, f)
				}
				if r := pickText(sub, "reason"); r != "" {
					reasons = append(reasons, r)
				}
			}
		}
		d := src.dim(&set)
		d.Score = clampScore(mean(values))
		d.Reason = strings.Join(reasons, "\n")
	}
	set.Total = set.Sum()
	return set
}

// scoreObjects turns one source value into score sub-objects.
func scoreObjects(v any) []map[string]any {
	switch t := coerceJSON(v).(type) {
	case map[string]any:
		return []map[string]any{t}
	case []any:
		var out []map[string]any
		for _, e := range t {
			out = append(out, scoreObjects(e)...)
		}
		return out
	case string:
		return repairScore(t)
	case nil:
		return nil
	default:
		// bare number
		return []map[string]any{{"score": t}}
	}
}

func repairScore(s string) []map[string]any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if looksLikePythonDict(s) {
		if v, ok := decodeJSON(pythonToJSON(s)); ok && isContainer(v) {
			return scoreObjects(v)
		}
	}
	m := map[string]any{}
	if sm := looseScore.FindStringSubmatch(s); sm != nil {
		m["score"] = sm[1]
	}
	if rm := looseReason.FindStringSubmatch(s); rm != nil {
		m["reason"] = rm[1]
	} else if len(m) == 0 {
		m["reason"] = s
	}
	return []map[string]any{m}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clampScore(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	n := int(math.Round(f))
	switch {
	case n < 0:
		return 0
	case n > MaxDimensionScore:
		return MaxDimensionScore
	}
	return n
}
