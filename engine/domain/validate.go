package domain

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const maxQuestionRunes = 4000

// ValidateDocument checks a document before ingestion. Unit indexes must be
// 1-based and strictly increasing so record identifiers stay unique.
func ValidateDocument(doc Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return NewValidationError("id", doc.ID, ErrInvalidDocument)
	}
	if strings.ContainsAny(doc.ID, " \t\n") {
		return NewValidationError("id", doc.ID, ErrInvalidDocument)
	}
	prev := 0
	for _, u := range doc.Units {
		if u.Index <= prev {
			return NewValidationError("unit", strconv.Itoa(u.Index), ErrInvalidDocument)
		}
		if !utf8.ValidString(u.Text) {
			return NewValidationError("unit.text", strconv.Itoa(u.Index), ErrInvalidDocument)
		}
		prev = u.Index
	}
	return nil
}

// ValidateQuery checks a question and its result bound.
func ValidateQuery(q Query) error {
	if q.K < 1 {
		return NewValidationError("k", strconv.Itoa(q.K), ErrInvalidQuery)
	}
	text := strings.TrimSpace(q.Question)
	if text == "" {
		return NewValidationError("question", q.Question, ErrInvalidQuery)
	}
	if !utf8.ValidString(text) {
		return NewValidationError("question", "<invalid utf-8>", ErrInvalidQuery)
	}
	if utf8.RuneCountInString(text) > maxQuestionRunes {
		return NewValidationError("question", text[:64], ErrInvalidQuery)
	}
	return nil
}
