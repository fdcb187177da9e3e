package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubtguoyi/writing/internal/domain"
)

func TestNormalizeGrading(t *testing.T) {
	t.Parallel()
	p := Unwrap(map[string]any{"data": map[string]any{"outputs": map[string]any{
		"base":       `{"score_sum":18}`,
		"wrong_char": "[{'wrong_char':'天','correct_char':'田'}]",
	}}})
	require.Equal(t, PayloadOutputs, p.Kind)

	g := NormalizeGrading(p.Outputs)
	assert.Equal(t, 18, g.Scores.Presentation.Score)
	assert.Equal(t, 18, g.Scores.Total)
	assert.Equal(t, []domain.WrongChar{{WrongChar: "天", CorrectChar: "田", Recovered: true}}, g.WrongChars)
	assert.Equal(t, []string{"wrong_char"}, g.RecoveredFields)
	assert.NotNil(t, g.WrongWords)
	assert.NotNil(t, g.Improvements)
}

func TestNormalizeGrading_MergesAnalysisAndDedups(t *testing.T) {
	t.Parallel()
	g := NormalizeGrading(map[string]any{
		"wrong_char":     `[{"wrong_char":"天","correct_char":"田"},{"wrong_char":"天","correct_char":"添"}]`,
		"wrong_words":    `{"wrong_words_list":[{"wrong_words":"高兴","correct_words":"开心"}]}`,
		"error_analysis": "错误词汇：高兴\n正确词汇：快乐\n\n错误词汇：美丽\n正确词汇：漂亮",
	})
	require.Len(t, g.WrongChars, 1)
	assert.Equal(t, "田", g.WrongChars[0].CorrectChar)
	require.Len(t, g.WrongWords, 2)
	assert.Equal(t, "开心", g.WrongWords[0].CorrectWords)
	assert.Equal(t, "美丽", g.WrongWords[1].WrongWords)
	assert.Equal(t, []string{"error_analysis"}, g.RecoveredFields)
}
