package store

import "github.com/jomardyan/FlexiFocus/internal/model"

// AppendHistory prepends entry and drops the oldest entries beyond
// model.HistoryLimit. The input slice is not modified.
func AppendHistory(history []model.HistoryEntry, entry model.HistoryEntry) []model.HistoryEntry {
	size := len(history) + 1
	if size > model.HistoryLimit {
		size = model.HistoryLimit
	}
	out := make([]model.HistoryEntry, 0, size)
	out = append(out, entry)
	for _, existing := range history {
		if len(out) == size {
			break
		}
		out = append(out, existing)
	}
	return out
}
