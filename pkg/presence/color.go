package presence

import "hash/fnv"

var basePalette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4", "#42d4f4",
	"#f032e6", "#bfef45", "#469990", "#9a6324", "#800000", "#000075",
}

// Palette возвращает палитру размером с лимит редакторов (не больше базовой)
func Palette(size int) []string {
	if size <= 0 || size > len(basePalette) {
		size = len(basePalette)
	}
	return basePalette[:size]
}

// ColorFor детерминированно отображает user id на цвет палитры
func ColorFor(userID string, palette []string) string {
	if len(palette) == 0 {
		palette = basePalette
	}
	h := fnv.New32a()
	h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}
