// Package extractor turns the DailyMed label page into indication records.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"dailymed-etl/internal/model"

	"github.com/PuerkitoBio/goquery"
)

// ErrExtraction is returned when the document cannot be turned into records.
var ErrExtraction = errors.New("extract indications")

// Selectors for the "Indications and Usage" section (LOINC 34067-9).
const (
	DefaultTitleSelector = `div[data-sectioncode="34067-9"] h2`
	DefaultTextSelector  = `div[data-sectioncode="34067-9"] h2 + p`
)

var (
	numberingPrefix = regexp.MustCompile(`^\s*\d+\.(\d+\.?)*\s+`)
	bracketed       = regexp.MustCompile(`\s*\[.*\]`)
)

// Extractor selects heading/description pairs from an HTML document.
type Extractor struct {
	titleSelector string
	textSelector  string
}

// New returns an extractor using the given selectors; empty values fall back
// to the defaults.
func New(titleSelector, textSelector string) *Extractor {
	if titleSelector == "" {
		titleSelector = DefaultTitleSelector
	}
	if textSelector == "" {
		textSelector = DefaultTextSelector
	}
	return &Extractor{titleSelector: titleSelector, textSelector: textSelector}
}

// Extract parses body and returns one record per matched heading, numbered
// from 1 in document order. A page without matching sections yields an empty
// slice.
func (e *Extractor) Extract(body []byte) ([]model.RawIndication, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", ErrExtraction, err)
	}

	titles := texts(doc.Find(e.titleSelector))
	descriptions := texts(doc.Find(e.textSelector))

	if len(titles) != len(descriptions) {
		return nil, fmt.Errorf("%w: %d headings but %d descriptions", ErrExtraction, len(titles), len(descriptions))
	}

	records := make([]model.RawIndication, 0, len(titles))
	for i := range titles {
		records = append(records, model.RawIndication{
			ID:    i + 1,
			Title: NormalizeTitle(titles[i]),
			Text:  NormalizeText(descriptions[i]),
		})
	}
	return records, nil
}

// NormalizeTitle drops a leading section number such as "1.1" or "2.".
func NormalizeTitle(s string) string {
	return collapse(numberingPrefix.ReplaceAllString(collapse(s), ""))
}

// NormalizeText drops a bracketed citation such as "[see Warnings (5.1)]".
func NormalizeText(s string) string {
	return collapse(bracketed.ReplaceAllString(collapse(s), ""))
}

func texts(sel *goquery.Selection) []string {
	return sel.Map(func(_ int, s *goquery.Selection) string {
		return s.Text()
	})
}

// collapse trims s and folds internal whitespace runs into one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
