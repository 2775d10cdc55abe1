package text

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

var ErrInvalidWindow = errors.New("chunk overlap must be smaller than chunk size")

// Document is the full extracted text of one source object.
type Document struct {
	ID   string
	Text string
}

// Chunk is a window over a Document's text. Start and End are rune offsets,
// so Text == string([]rune(doc.Text)[Start:End]).
type Chunk struct {
	Text     string `json:"text"`
	SourceID string `json:"source_id"`
	Order    int    `json:"order"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// separators in order of preference: paragraph, line, sentence, word.
var separators = []string{"\n\n", "\n", "。", "？", "！", ". ", "? ", "! ", " "}

var (
	crlfRe        = regexp.MustCompile(`\r\n?`)
	trailingWSRe  = regexp.MustCompile(`(?m)[ \t]+$`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
	inlineSpaceRe = regexp.MustCompile(`[ \t\f\v]{2,}`)
)

// Normalize cleans extracted text before chunking: unified newlines, no
// trailing spaces, at most one blank line in a row.
func Normalize(text string) string {
	text = crlfRe.ReplaceAllString(text, "\n")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, text)
	text = trailingWSRe.ReplaceAllString(text, "")
	text = inlineSpaceRe.ReplaceAllString(text, " ")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Splitter cuts documents into overlapping windows of at most size runes.
type Splitter struct {
	size    int
	overlap int
}

func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrInvalidWindow
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// SplitAll chunks every document, preserving document order.
func (s *Splitter) SplitAll(docs []Document) []Chunk {
	var out []Chunk
	for _, d := range docs {
		out = append(out, s.Split(d)...)
	}
	return out
}

// Split never drops the trailing partial window and never returns an empty
// chunk. Consecutive chunks overlap by at most the configured overlap.
func (s *Splitter) Split(doc Document) []Chunk {
	if strings.TrimSpace(doc.Text) == "" {
		return nil
	}

	runes := []rune(doc.Text)
	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := len(runes)
		if end-start > s.size {
			end = s.cutPoint(runes, start)
		}

		chunks = append(chunks, Chunk{
			Text:     string(runes[start:end]),
			SourceID: doc.ID,
			Order:    len(chunks),
			Start:    start,
			End:      end,
		})

		if end == len(runes) {
			break
		}
		start = s.nextStart(runes, end)
	}
	return chunks
}

// cutPoint picks the end of the window starting at start. It looks for the
// highest-priority separator in the back half of the window and falls back
// to a hard cut at the window limit.
func (s *Splitter) cutPoint(runes []rune, start int) int {
	limit := start + s.size
	minEnd := start + s.size/2
	if floor := start + s.overlap + 1; minEnd < floor {
		minEnd = floor
	}

	for _, sep := range separators {
		sr := []rune(sep)
		for cut := limit; cut >= minEnd; cut-- {
			if cut-len(sr) < start {
				break
			}
			if hasSuffixAt(runes, cut, sr) {
				return cut
			}
		}
	}
	return limit
}

// nextStart backs up by the overlap and then moves forward to a word
// boundary so the shared region does not begin mid-word.
func (s *Splitter) nextStart(runes []rune, end int) int {
	if s.overlap == 0 {
		return end
	}
	next := end - s.overlap
	for i := next; i < end; i++ {
		if unicode.IsSpace(runes[i]) {
			if i+1 < end {
				return i + 1
			}
			break
		}
	}
	return next
}

func hasSuffixAt(runes []rune, end int, sep []rune) bool {
	if end > len(runes) || end-len(sep) < 0 {
		return false
	}
	for i, r := range sep {
		if runes[end-len(sep)+i] != r {
			return false
		}
	}
	return true
}
