package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrap_Strategies(t *testing.T) {
	t.Parallel()

	questions := []any{map[string]any{"question": "q"}}
	tests := []struct {
		name     string
		raw      any
		kind     PayloadKind
		strategy string
	}{
		{"data object with outputs", map[string]any{"data": map[string]any{"outputs": map[string]any{"text": "作文"}}}, PayloadOutputs, "data_object"},
		{"data object with output array", map[string]any{"data": map[string]any{"output": questions}}, PayloadStory, "data_object"},
		{"data object with outputs.question_data", map[string]any{"data": map[string]any{"outputs": map[string]any{"question_data": questions}}}, PayloadQuestionData, "data_object"},
		{"data string with output array", map[string]any{"code": 0, "data": mustJSON(t, map[string]any{"output": questions, "title": "森林"})}, PayloadStory, "data_string"},
		{"data string legacy outputs.question_data", map[string]any{"data": mustJSON(t, map[string]any{"outputs": map[string]any{"question_data": questions}})}, PayloadQuestionData, "data_string"},
		{"data string legacy question_data", map[string]any{"data": mustJSON(t, map[string]any{"question_data": questions})}, PayloadQuestionData, "data_string"},
		{"data string outputs object", map[string]any{"data": mustJSON(t, map[string]any{"base": `{"score_sum":18}`})}, PayloadOutputs, "data_string"},
		{"data string double encoded", map[string]any{"data": mustJSON(t, mustJSON(t, map[string]any{"output": questions}))}, PayloadStory, "data_string"},
		{"result.question_data", map[string]any{"result": map[string]any{"question_data": questions}}, PayloadQuestionData, "result_question_data"},
		{"output.question_data", map[string]any{"output": map[string]any{"question_data": questions}}, PayloadQuestionData, "output_question_data"},
		{"root question_data", map[string]any{"question_data": questions}, PayloadQuestionData, "question_data"},
		{"priority data over root", map[string]any{"data": map[string]any{"outputs": map[string]any{"text": "x"}}, "question_data": questions}, PayloadOutputs, "data_object"},
		{"json text input", `{"data":{"outputs":{"text":"x"}}}`, PayloadOutputs, "data_object"},
		{"bytes input", []byte(`{"question_data":[]}`), PayloadQuestionData, "question_data"},
		{"empty object", map[string]any{}, PayloadNotFound, ""},
		{"empty data string", map[string]any{"data": ""}, PayloadNotFound, ""},
		{"empty json in data", map[string]any{"data": "{}"}, PayloadNotFound, ""},
		{"data object without outputs", map[string]any{"data": map[string]any{"foo": 1}}, PayloadNotFound, ""},
		{"data.question_data object", map[string]any{"data": map[string]any{"question_data": questions}}, PayloadQuestionData, "data_question_data"},
		{"root question_data before data.question_data", map[string]any{"data": map[string]any{"question_data": []any{}}, "question_data": questions}, PayloadQuestionData, "question_data"},
		{"result.question_data before data.question_data", map[string]any{"data": map[string]any{"question_data": questions}, "result": map[string]any{"question_data": questions}}, PayloadQuestionData, "result_question_data"},
		{"not json", "garbage", PayloadNotFound, ""},
		{"nil", nil, PayloadNotFound, ""},
		{"array root", []any{1, 2}, PayloadNotFound, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := Unwrap(tt.raw)
			assert.Equal(t, tt.kind, p.Kind, p.Kind.String())
			assert.Equal(t, tt.strategy, p.Strategy)
			assert.Equal(t, tt.kind != PayloadNotFound, p.Found())
		})
	}
}

func TestUnwrap_DataQuestionDataKeepsTitle(t *testing.T) {
	t.Parallel()
	qs := []any{map[string]any{"question": "小熊去哪里了？"}}
	p := Unwrap(map[string]any{"data": map[string]any{"question_data": qs, "title": "森林"}})
	require.Equal(t, PayloadQuestionData, p.Kind)
	assert.Equal(t, qs, p.Questions)
	assert.Equal(t, "森林", p.Title)
}

func TestUnwrap_Title(t *testing.T) {
	t.Parallel()
	p := Unwrap(map[string]any{"code": 0, "msg": "", "data": mustJSON(t, map[string]any{"output": []any{}, "title": "小熊的森林冒险"})})
	require.Equal(t, PayloadStory, p.Kind)
	assert.Equal(t, "小熊的森林冒险", p.Title)
}

func TestUnwrap_OutputsContent(t *testing.T) {
	t.Parallel()
	p := Unwrap(map[string]any{"data": map[string]any{"outputs": mustJSON(t, map[string]any{"text": "今天天气很好"})}})
	require.Equal(t, PayloadOutputs, p.Kind)
	text, ok := OCRText(p)
	assert.True(t, ok)
	assert.Equal(t, "今天天气很好", text)
}

func TestOCRText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    Payload
		want string
		ok   bool
	}{
		{"text", Payload{Kind: PayloadOutputs, Outputs: map[string]any{"text": " 第一段 "}}, "第一段", true},
		{"output list", Payload{Kind: PayloadOutputs, Outputs: map[string]any{"output": []any{"第一页", "", "第二页"}}}, "第一页\n第二页", true},
		{"nested", Payload{Kind: PayloadOutputs, Outputs: map[string]any{"result": `{"content":"正文"}`}}, "正文", true},
		{"numeric text kept", Payload{Kind: PayloadOutputs, Outputs: map[string]any{"text": "2024"}}, "2024", true},
		{"missing", Payload{Kind: PayloadOutputs, Outputs: map[string]any{"other": "x"}}, "", false},
		{"not outputs", Payload{Kind: PayloadStory}, "", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := OCRText(tt.p)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
