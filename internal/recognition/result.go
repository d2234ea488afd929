// Package recognition turns stored scans into positioned text.
package recognition

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

// ErrEngineUnavailable indicates that no recognition engine has been configured.
var ErrEngineUnavailable = errors.New("recognition: engine unavailable")

// Engine recognizes the text of the content stored under a reference.
type Engine interface {
	Recognize(ctx context.Context, contentRef string) (Result, error)
}

// ContentReader loads stored bytes by reference.
type ContentReader interface {
	Read(ctx context.Context, ref string) ([]byte, error)
}

// BoundingBox is a rectangle in image pixel coordinates.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Word is one recognized token.
type Word struct {
	Text       string      `json:"text"`
	BBox       BoundingBox `json:"bbox"`
	Confidence float32     `json:"confidence"`
}

// Line groups the words found on one text line.
type Line struct {
	Words []Word      `json:"words"`
	BBox  BoundingBox `json:"bbox"`
}

// Text joins the line's words with single spaces.
func (l Line) Text() string {
	parts := make([]string, 0, len(l.Words))
	for _, word := range l.Words {
		parts = append(parts, word.Text)
	}
	return strings.Join(parts, " ")
}

// Result is the structured output of a recognition pass.
type Result struct {
	Lines       []Line `json:"lines"`
	ImageWidth  int    `json:"imageWidth"`
	ImageHeight int    `json:"imageHeight"`
}

// Text returns the recognized lines separated by newlines.
func (r Result) Text() string {
	lines := make([]string, 0, len(r.Lines))
	for _, line := range r.Lines {
		lines = append(lines, line.Text())
	}
	return strings.Join(lines, "\n")
}

// SearchText concatenates every word with all whitespace removed, the form page search matches against.
func (r Result) SearchText() string {
	var builder strings.Builder
	for _, line := range r.Lines {
		for _, word := range line.Words {
			for _, char := range word.Text {
				if !unicode.IsSpace(char) {
					builder.WriteRune(char)
				}
			}
		}
	}
	return builder.String()
}

// compact drops blank words and the lines left without words.
func (r Result) compact() Result {
	lines := make([]Line, 0, len(r.Lines))
	for _, line := range r.Lines {
		words := make([]Word, 0, len(line.Words))
		for _, word := range line.Words {
			word.Text = strings.TrimSpace(word.Text)
			if word.Text == "" {
				continue
			}
			words = append(words, word)
		}
		if len(words) == 0 {
			continue
		}
		line.Words = words
		lines = append(lines, line)
	}
	r.Lines = lines
	return r
}
