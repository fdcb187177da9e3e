package normalize

import (
	"regexp"
	"strings"

	"github.com/ubtguoyi/writing/internal/domain"
)

var (
	blankLine     = regexp.MustCompile(`\n[ \t\r]*\n`)
	analysisLabel = regexp.MustCompile(`(错误词汇|正确词汇|错误类型|错误原因|原句|句子|修改后|修改建议|修改|分析|原因)\s*[:：]`)
	listMarker    = regexp.MustCompile(`^(?:\d+[.、)]|[-*•])\s*`)
)

// ParseErrorAnalysis splits a free-text error analysis into word and sentence
// errors. Segments are separated by blank lines; a segment naming 错误词汇 is a
// word error, one naming 句子 or 原句 is a sentence error, anything else is skipped.
// Every record produced here is flagged as recovered.
func ParseErrorAnalysis(analysis string) ([]domain.WrongWord, []domain.WrongSentence) {
	var (
		words     []domain.WrongWord
		sentences []domain.WrongSentence
	)
	analysis = strings.ReplaceAll(analysis, "\r\n", "\n")
	for _, seg := range blankLine.Split(analysis, -1) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		fields := labeledFields(seg)
		switch {
		case fields["错误词汇"] != "":
			words = append(words, domain.WrongWord{
				WrongWords:   fields["错误词汇"],
				CorrectWords: fields["正确词汇"],
				WrongType:    fields["错误类型"],
				WrongReason:  firstNonEmpty(fields["错误原因"], fields["原因"]),
				Sentence:     firstNonEmpty(fields["句子"], fields["原句"]),
				Recovered:    true,
			})
		case fields["句子"] != "" || fields["原句"] != "":
			sentences = append(sentences, domain.WrongSentence{
				Sentence:   firstNonEmpty(fields["句子"], fields["原句"]),
				Correction: firstNonEmpty(fields["修改后"], fields["修改建议"], fields["修改"]),
				ErrorType:  fields["错误类型"],
				Analysis:   firstNonEmpty(fields["分析"], fields["错误原因"], fields["原因"]),
				Recovered:  true,
			})
		}
	}
	return words, sentences
}

// labeledFields maps each label in seg to the text up to the next label.
func labeledFields(seg string) map[string]string {
	out := map[string]string{}
	locs := analysisLabel.FindAllStringSubmatchIndex(seg, -1)
	for i, loc := range locs {
		label := seg[loc[2]:loc[3]]
		end := len(seg)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		val := strings.TrimSpace(seg[loc[1]:end])
		val = strings.TrimSpace(listMarker.ReplaceAllString(val, ""))
		val = strings.TrimRight(val, "，,;；")
		if _, seen := out[label]; !seen {
			out[label] = val
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
