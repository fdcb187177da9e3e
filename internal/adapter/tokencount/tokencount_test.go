package tokencount

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCount(t *testing.T) {
	t.Parallel()
	c := NewCounter("")
	assert.Equal(t, 0, c.Count(""))
	assert.Greater(t, c.Count("今天天气很好，我和妈妈去公园。"), 0)
	assert.Greater(t, c.Count(strings.Repeat("春天来了。", 20)), c.Count("春天来了。"))
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	c := NewCounter(DefaultEncoding)
	text := strings.Repeat("小草从地下探出头来。", 50)

	out, cut := c.Truncate(text, 0)
	assert.False(t, cut)
	assert.Equal(t, text, out)

	out, cut = c.Truncate("短文", 100)
	assert.False(t, cut)
	assert.Equal(t, "短文", out)

	out, cut = c.Truncate(text, 40)
	assert.True(t, cut)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(text, out))
	assert.Less(t, len(out), len(text))
}

func TestFallbackWithoutEncoding(t *testing.T) {
	t.Parallel()
	c := NewCounter("no_such_encoding")
	assert.Equal(t, 4, c.Count("一二三四"))
	out, cut := c.Truncate("一二三四五", 3)
	assert.True(t, cut)
	assert.Equal(t, "一二三", out)
}

func TestTrimInvalidTail(t *testing.T) {
	t.Parallel()
	s := "好"
	assert.Equal(t, "a", trimInvalidTail("a"+s[:2]))
	assert.Equal(t, "ab", trimInvalidTail("ab"))
}
