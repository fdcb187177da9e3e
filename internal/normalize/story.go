package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ubtguoyi/writing/internal/domain"
)

// Placeholder texts used when no question could be recovered.
const (
	MsgUnsupportedShape = "数据格式不受支持，请提供正确的故事练习数据。"
	MsgNoQuestionData   = "API未返回问题数据。请稍后再试或联系管理员。"
	MsgParseError       = "解析数据时出错: "
)

// Feedback sentinels of the story workflow.
const (
	positiveFeedback = "你真棒"
	negativeFeedback = "很遗憾"
)

var (
	legacyLine    = regexp.MustCompile(`(?s)^(\d+):\s*"(.*)"$`)
	questionField = regexp.MustCompile(`"question":\s*"([^"]+)"`)
	legacyEscapes = strings.NewReplacer(`\n`, "\n", `\"`, `"`, `\\`, `\`)
)

// StoryResult is a normalized story payload.
type StoryResult struct {
	Title      string
	Questions  []domain.StoryQuestion
	Confidence Confidence
	// Placeholder is set when Questions holds the single failure placeholder.
	Placeholder bool
}

// PlaceholderQuestion is the single record shown instead of an empty list.
func PlaceholderQuestion(msg string) domain.StoryQuestion {
	return domain.StoryQuestion{
		ID:           1,
		QuestionText: msg,
		Options:      []domain.StoryOption{{Text: "重试", Feedback: "请重新尝试"}},
		CorrectIndex: 0,
		Placeholder:  true,
	}
}

// StoryQuestions normalizes an unwrapped story payload. When the payload was
// not found or holds no recoverable question, the result is exactly one
// placeholder question carrying missing (or MsgUnsupportedShape when empty).
func StoryQuestions(p Payload, missing string) StoryResult {
	if missing == "" {
		missing = MsgUnsupportedShape
	}
	res := StoryResult{Title: p.Title, Confidence: ConfidenceHigh}
	if p.Found() {
		var low bool
		res.Questions, low = collectQuestions(p.Questions, 0)
		if low {
			res.Confidence = ConfidenceLow
		}
	}
	if len(res.Questions) == 0 {
		res.Questions = []domain.StoryQuestion{PlaceholderQuestion(missing)}
		res.Placeholder = true
		return res
	}
	for i := range res.Questions {
		if res.Questions[i].ID == 0 {
			res.Questions[i].ID = i + 1
		}
	}
	return res
}

func collectQuestions(v any, depth int) ([]domain.StoryQuestion, bool) {
	if depth > maxNestDepth {
		return nil, false
	}
	switch t := coerceJSON(v).(type) {
	case []any:
		var (
			out []domain.StoryQuestion
			low bool
		)
		for _, e := range t {
			qs, l := collectQuestions(e, depth+1)
			out = append(out, qs...)
			low = low || l
		}
		return out, low
	case map[string]any:
		if inner, ok := pick(t, "output", "question_data", "questions"); ok && !hasAny(t, "question", "questionText") {
			return collectQuestions(inner, depth+1)
		}
		if isIndexKeyed(t) {
			return collectQuestions(orderedValues(t), depth+1)
		}
		if q, ok := questionFromMap(t); ok {
			return []domain.StoryQuestion{q}, false
		}
		return nil, false
	case string:
		return questionFromString(t)
	}
	return nil, false
}

// questionFromString handles legacy `0: "{...}"` lines and loose text.
func questionFromString(s string) ([]domain.StoryQuestion, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	id := 0
	body := s
	if m := legacyLine.FindStringSubmatch(s); m != nil {
		id, _ = strconv.Atoi(m[1])
		id++
		body = legacyEscapes.Replace(m[2])
	}
	if v, ok := decodeJSON(body); ok {
		if mm, ok := asMap(v); ok {
			if q, ok := questionFromMap(mm); ok {
				if q.ID == 0 {
					q.ID = id
				}
				return []domain.StoryQuestion{q}, true
			}
		}
	}
	q := domain.StoryQuestion{ID: id, CorrectIndex: -1}
	if m := questionField.FindStringSubmatch(body); m != nil {
		q.QuestionText = m[1]
	} else {
		q.QuestionText = excerpt(body, 200)
	}
	return []domain.StoryQuestion{q}, true
}

func questionFromMap(m map[string]any) (domain.StoryQuestion, bool) {
	// word practice items carry the whole question as a JSON string in "question"
	if inner, ok := asMap(coerceJSON(m["question"])); ok {
		merged := make(map[string]any, len(m)+len(inner))
		for k, v := range m {
			merged[k] = v
		}
		for k, v := range inner {
			merged[k] = v
		}
		m = merged
	}
	q := domain.StoryQuestion{
		QuestionText: pickText(m, "question", "questionText", "question_text"),
		ImageURL:     pickText(m, "img", "imageUrl", "image_url", "image"),
		Placeholder:  toBool(m["placeholder"]),
	}
	if id, ok := toFloat(m["id"]); ok {
		q.ID = int(id)
	}
	explicit := -1
	if opts, ok := pick(m, "selection_list", "options", "selections", "selection"); ok {
		q.Options, explicit = storyOptions(opts)
	}
	if q.QuestionText == "" && len(q.Options) == 0 {
		return domain.StoryQuestion{}, false
	}
	q.CorrectIndex, q.CorrectAssumed = correctIndex(q.Options, explicit)
	return q, true
}

func storyOptions(v any) ([]domain.StoryOption, int) {
	var list []any
	switch t := coerceJSON(v).(type) {
	case []any:
		list = t
	case map[string]any:
		list = orderedValues(t)
	default:
		return nil, -1
	}
	explicit := -1
	out := make([]domain.StoryOption, 0, len(list))
	for _, e := range list {
		switch o := coerceJSON(e).(type) {
		case map[string]any:
			if explicit < 0 && toBool(firstPresent(o, "is_correct", "isCorrect", "correct")) {
				explicit = len(out)
			}
			out = append(out, domain.StoryOption{
				Text:     pickText(o, "selection", "text", "option"),
				Feedback: pickText(o, "answer", "feedback"),
			})
		default:
			if s := text(o); s != "" {
				out = append(out, domain.StoryOption{Text: s})
			}
		}
	}
	return out, explicit
}

func firstPresent(m map[string]any, keys ...string) any {
	v, _ := pick(m, keys...)
	return v
}

// correctIndex derives the correct option from an explicit flag or the
// feedback polarity. Without either signal index 0 is assumed and flagged.
func correctIndex(opts []domain.StoryOption, explicit int) (int, bool) {
	if len(opts) == 0 {
		return -1, false
	}
	if explicit >= 0 && explicit < len(opts) {
		return explicit, false
	}
	negatives := 0
	for i, o := range opts {
		if strings.Contains(o.Feedback, positiveFeedback) {
			return i, false
		}
		if strings.Contains(o.Feedback, negativeFeedback) {
			negatives++
		}
	}
	// exactly one option without negative feedback
	if negatives == len(opts)-1 {
		for i, o := range opts {
			if !strings.Contains(o.Feedback, negativeFeedback) {
				return i, false
			}
		}
	}
	return 0, true
}
