// Package model holds the records that flow through the scrape and mapping
// cycles.
package model

import "time"

// RawIndication is one (title, text) pair extracted from the source page.
// ID is its 1-based position within a single scrape.
type RawIndication struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Snapshot is the cached result of one scrape together with the moment it
// stops being fresh.
type Snapshot struct {
	Data      []RawIndication
	ExpiresAt time.Time
}

// Indication is a classified record as persisted by the store. ID is assigned
// by storage; zero means the record has not been stored yet.
type Indication struct {
	ID          int64  `json:"id" db:"id"`
	Indication  string `json:"indication" db:"indication"`
	Description string `json:"description" db:"description"`
	Code        string `json:"code" db:"code"`
}

// NewIndication builds the persisted form of a raw record and its code.
func NewIndication(raw RawIndication, code string) Indication {
	return Indication{
		Indication:  raw.Title,
		Description: raw.Text,
		Code:        code,
	}
}
