package fields

import (
	"bytes"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
)

// word is one positioned text run on a page.
type word struct {
	text string
	x1   float64
	y1   float64
	x2   float64
	y2   float64
}

// wordIndex lazily extracts positioned text per page. Text extraction
// is only needed for the neighbor-label fallback, so a document whose
// text layer cannot be parsed still maps fine on tooltips and names.
type wordIndex struct {
	reader *pdf.Reader
	cache  map[int][]word
	log    zerolog.Logger
}

func newWordIndex(docBytes []byte, log zerolog.Logger) *wordIndex {
	idx := &wordIndex{cache: map[int][]word{}, log: log}

	reader, err := pdf.NewReader(bytes.NewReader(docBytes), int64(len(docBytes)))
	if err != nil {
		log.Debug().Err(err).Msg("text layer unavailable, neighbor labels disabled")
		return idx
	}
	idx.reader = reader
	return idx
}

func (idx *wordIndex) onPage(pageNum int) []word {
	if words, ok := idx.cache[pageNum]; ok {
		return words
	}
	words := idx.extract(pageNum)
	idx.cache[pageNum] = words
	return words
}

func (idx *wordIndex) extract(pageNum int) (words []word) {
	if idx.reader == nil || pageNum < 1 || pageNum > idx.reader.NumPage() {
		return nil
	}
	// The text parser is known to panic on some malformed content
	// streams; a page without neighbor labels beats a failed mapping.
	defer func() {
		if r := recover(); r != nil {
			idx.log.Debug().Int("page", pageNum).Interface("panic", r).Msg("text extraction panicked")
			words = nil
		}
	}()

	page := idx.reader.Page(pageNum)
	if page.V.IsNull() {
		return nil
	}
	content := page.Content()
	for _, text := range content.Text {
		if strings.TrimSpace(text.S) == "" {
			continue
		}
		// ledongthuc only reports the baseline and advance width; the
		// font size stands in for the text height.
		height := text.FontSize
		if height == 0 {
			height = 12.0
		}
		words = append(words, word{
			text: text.S,
			x1:   text.X,
			y1:   text.Y,
			x2:   text.X + text.W,
			y2:   text.Y + height,
		})
	}
	return words
}

// resolveLabel applies the label priority order, stopping at the first
// success: tooltip, printed text left of the widget, then the internal
// field name.
func (l *Locator) resolveLabel(w Widget, pageWords []word) string {
	if w.Tooltip != "" {
		return w.Tooltip
	}
	if label := l.labelFromNeighbors(w.Rect, pageWords); label != "" {
		return label
	}
	return w.Name
}

// labelFromNeighbors concatenates the run of printed words immediately
// left of the box, within the bounded horizontal search distance and
// with vertical overlap, ordered left to right.
func (l *Locator) labelFromNeighbors(box BoundingBox, pageWords []word) string {
	var left []word
	for _, w := range pageWords {
		if w.x2 >= box.X1-5 || w.x2 <= box.X1-l.MaxLabelDistance {
			continue
		}
		if w.y2 > box.Y1-l.VerticalPad && w.y1 < box.Y2+l.VerticalPad {
			left = append(left, w)
		}
	}
	if len(left) == 0 {
		return ""
	}

	sort.Slice(left, func(i, j int) bool { return left[i].x1 < left[j].x1 })

	parts := make([]string, 0, len(left))
	for _, w := range left {
		parts = append(parts, w.text)
	}
	label := strings.Trim(strings.Join(parts, " "), " :")
	return normalizeSpace(label)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
