package snapshot

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"collabsync/pkg/crdt"
)

// Reconcile возвращает правки, превращающие from в to. Позиции каждой правки
// считаются по документу после применения предыдущих.
func Reconcile(from, to string) []crdt.Splice {
	if from == to {
		return nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(from, to, false))

	var edits []crdt.Splice
	pos := 0
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			pos += n
		case diffmatchpatch.DiffDelete:
			edits = append(edits, crdt.Splice{Start: pos, End: pos + n})
		case diffmatchpatch.DiffInsert:
			// удаление сразу перед вставкой на той же позиции сливаем в замену
			if last := len(edits) - 1; last >= 0 && edits[last].Start == pos && edits[last].Text == "" {
				edits[last].Text = d.Text
			} else {
				edits = append(edits, crdt.Splice{Start: pos, End: pos, Text: d.Text})
			}
			pos += n
		}
	}
	return edits
}
