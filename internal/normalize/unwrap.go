package normalize

// PayloadKind names the shape a workflow response was recognized as.
type PayloadKind int

const (
	// PayloadNotFound is the "no data found" marker. It is a normal outcome.
	PayloadNotFound PayloadKind = iota
	// PayloadOutputs is an outputs object (OCR and grading workflows).
	PayloadOutputs
	// PayloadStory is the newer story shape: an output array of question objects.
	PayloadStory
	// PayloadQuestionData is the legacy story shape carrying question_data.
	PayloadQuestionData
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadOutputs:
		return "outputs"
	case PayloadStory:
		return "story"
	case PayloadQuestionData:
		return "question_data"
	default:
		return "not_found"
	}
}

// Payload is the located answer of a workflow response.
type Payload struct {
	Kind PayloadKind
	// Strategy is the name of the unwrap strategy that matched.
	Strategy  string
	Outputs   map[string]any
	Questions any
	Title     string
}

// Found reports whether a known shape matched.
func (p Payload) Found() bool { return p.Kind != PayloadNotFound }

type unwrapStrategy struct {
	name    string
	extract func(root map[string]any) (Payload, bool)
}

// unwrapStrategies is tried in order; the first match wins.
var unwrapStrategies = []unwrapStrategy{
	{name: "data_object", extract: fromDataObject},
	{name: "data_string", extract: fromDataString},
	{name: "result_question_data", extract: questionDataAt("result")},
	{name: "output_question_data", extract: questionDataAt("output")},
	{name: "question_data", extract: rootQuestionData},
	{name: "data_question_data", extract: questionDataAt("data")},
}

// Unwrap locates the payload inside a raw workflow response. It accepts a
// decoded JSON value, a JSON string or raw bytes and never fails: an
// unrecognized shape yields a Payload whose Kind is PayloadNotFound.
func Unwrap(raw any) Payload {
	root, ok := asMap(coerceJSON(raw))
	if !ok {
		return Payload{Kind: PayloadNotFound}
	}
	for _, s := range unwrapStrategies {
		if p, ok := s.extract(root); ok {
			p.Strategy = s.name
			return p
		}
	}
	return Payload{Kind: PayloadNotFound}
}

func fromDataObject(root map[string]any) (Payload, bool) {
	data, ok := asMap(root["data"])
	if !ok || !hasAny(data, "outputs", "output") {
		return Payload{}, false
	}
	return classifyAnswer(data, false)
}

func fromDataString(root map[string]any) (Payload, bool) {
	s, ok := root["data"].(string)
	if !ok {
		return Payload{}, false
	}
	switch v := coerceJSON(s).(type) {
	case map[string]any:
		return classifyAnswer(v, true)
	case []any:
		if len(v) == 0 {
			return Payload{}, false
		}
		return Payload{Kind: PayloadStory, Questions: v}, true
	}
	return Payload{}, false
}

func questionDataAt(key string) func(map[string]any) (Payload, bool) {
	return func(root map[string]any) (Payload, bool) {
		m, ok := asMap(coerceJSON(root[key]))
		if !ok {
			return Payload{}, false
		}
		return rootQuestionData(m)
	}
}

func rootQuestionData(m map[string]any) (Payload, bool) {
	qd, ok := m["question_data"]
	if !ok || qd == nil {
		return Payload{}, false
	}
	return Payload{Kind: PayloadQuestionData, Questions: qd, Title: pickText(m, "title")}, true
}

// classifyAnswer recognizes an answer object. In lenient mode any non-empty
// object is taken as the outputs map itself.
func classifyAnswer(m map[string]any, lenient bool) (Payload, bool) {
	title := pickText(m, "title")
	if out, ok := m["output"]; ok {
		switch v := coerceJSON(out).(type) {
		case []any:
			return Payload{Kind: PayloadStory, Questions: v, Title: title}, true
		case map[string]any:
			if p, ok := rootQuestionData(v); ok {
				return withTitle(p, title), true
			}
		}
	}
	if outs, ok := asMap(coerceJSON(m["outputs"])); ok {
		if p, ok := rootQuestionData(outs); ok {
			return withTitle(p, title), true
		}
		if list, ok := asSlice(coerceJSON(outs["output"])); ok {
			return Payload{Kind: PayloadStory, Questions: list, Title: firstNonEmpty(pickText(outs, "title"), title)}, true
		}
		return Payload{Kind: PayloadOutputs, Outputs: outs, Title: title}, true
	}
	if p, ok := rootQuestionData(m); ok {
		return p, true
	}
	if lenient && len(m) > 0 {
		return Payload{Kind: PayloadOutputs, Outputs: m, Title: title}, true
	}
	return Payload{}, false
}

func withTitle(p Payload, title string) Payload {
	if p.Title == "" {
		p.Title = title
	}
	return p
}
