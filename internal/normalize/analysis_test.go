package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubtguoyi/writing/internal/domain"
)

func TestParseErrorAnalysis(t *testing.T) {
	t.Parallel()
	text := "错误词汇：高兴\n正确词汇：开心\n错误类型：用词不当\n错误原因：语境不符\n句子：我很高兴地哭了。\n\n" +
		"句子: 我们去公园玩了很开心。\n修改后: 我们去公园玩得很开心。\n错误类型: 语法错误\n分析: 应使用结构助词。\n\r\n" +
		"这是一段总结，没有标签。\n\n\n" +
		"原句：1. 他跑的很快。\n修改：他跑得很快。"

	words, sentences := ParseErrorAnalysis(text)
	require.Len(t, words, 1)
	assert.Equal(t, domain.WrongWord{
		WrongWords: "高兴", CorrectWords: "开心", WrongType: "用词不当", WrongReason: "语境不符",
		Sentence: "我很高兴地哭了。", Recovered: true,
	}, words[0])

	require.Len(t, sentences, 2)
	assert.Equal(t, domain.WrongSentence{
		Sentence: "我们去公园玩了很开心。", Correction: "我们去公园玩得很开心。",
		ErrorType: "语法错误", Analysis: "应使用结构助词。", Recovered: true,
	}, sentences[0])
	assert.Equal(t, "他跑的很快。", sentences[1].Sentence)
	assert.Equal(t, "他跑得很快。", sentences[1].Correction)
}

func TestParseErrorAnalysis_Empty(t *testing.T) {
	t.Parallel()
	words, sentences := ParseErrorAnalysis("")
	assert.Empty(t, words)
	assert.Empty(t, sentences)
}
