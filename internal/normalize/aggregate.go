package normalize

import (
	"sort"
	"strings"

	"github.com/ubtguoyi/writing/internal/domain"
)

// Aggregate flattens the mistakes of every record into error-book entries.
// Entries are unique per kind by their key (first occurrence wins). Entries
// with a parsable date are ordered newest first among the positions they
// occupy; undated entries keep their encountered positions.
func Aggregate(records []domain.CorrectionRecord) []domain.ErrorBookEntry {
	seen := map[domain.EntryKind]map[string]struct{}{
		domain.EntryChar:     {},
		domain.EntrySentence: {},
		domain.EntryWord:     {},
	}
	entries := []domain.ErrorBookEntry{}
	add := func(e domain.ErrorBookEntry) {
		key := strings.TrimSpace(e.Original)
		if key == "" {
			return
		}
		if _, dup := seen[e.Kind][key]; dup {
			return
		}
		seen[e.Kind][key] = struct{}{}
		entries = append(entries, e)
	}

	for _, r := range records {
		base := domain.ErrorBookEntry{EssayTitle: r.Title, RecordID: r.ID, Date: r.SubmittedAt}
		for _, c := range r.WrongChars {
			e := base
			e.Kind, e.Original, e.Correction, e.Reason, e.ErrorType = domain.EntryChar, c.WrongChar, c.CorrectChar, c.Context, c.WrongType
			add(e)
		}
		for _, s := range r.WrongSentences {
			e := base
			e.Kind, e.Original, e.Correction, e.Reason, e.ErrorType = domain.EntrySentence, s.Sentence, s.Correction, s.Analysis, s.ErrorType
			add(e)
		}
		for _, w := range r.WrongWords {
			e := base
			e.Kind, e.Original, e.Correction, e.Reason, e.ErrorType = domain.EntryWord, w.WrongWords, w.CorrectWords, w.WrongReason, w.WrongType
			add(e)
		}
	}
	sortDatedDesc(entries)
	return entries
}

// sortDatedDesc sorts the dated entries in place within their own slots.
func sortDatedDesc(entries []domain.ErrorBookEntry) {
	type dated struct {
		entry domain.ErrorBookEntry
		unix  int64
	}
	var (
		slots []int
		items []dated
	)
	for i, e := range entries {
		if t, ok := domain.ParseTimestamp(e.Date); ok {
			slots = append(slots, i)
			items = append(items, dated{entry: e, unix: t.UnixNano()})
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].unix > items[j].unix })
	for i, slot := range slots {
		entries[slot] = items[i].entry
	}
}

// Search keeps the entries whose text or essay title contains q, case-insensitively.
// An empty query keeps everything.
func Search(entries []domain.ErrorBookEntry, q string) []domain.ErrorBookEntry {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return entries
	}
	out := []domain.ErrorBookEntry{}
	for _, e := range entries {
		for _, field := range []string{e.Original, e.Correction, e.Reason, e.EssayTitle} {
			if strings.Contains(strings.ToLower(field), q) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
