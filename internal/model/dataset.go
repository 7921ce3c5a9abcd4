package model

import (
	"encoding/json"
	"time"
)

// Dataset record types.
const (
	RecordTypeScrapeItem    = "scrape_item"
	RecordTypeGraphSnapshot = "graph_snapshot"
	RecordTypeProfileMap    = "profile_map"
	RecordTypeAnalytics     = "analytics"
)

// DatasetRecord is one stored payload inside a dataset.
type DatasetRecord struct {
	ID         string          `json:"id"`
	DatasetID  string          `json:"datasetId"`
	RecordType string          `json:"recordType"`
	StepID     string          `json:"stepId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Dataset groups the raw scrape items and derived artefacts of one query.
type Dataset struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Query        string          `json:"query"`
	TargetHandle string          `json:"targetHandle,omitempty"`
	Platform     string          `json:"platform"`
	SampleSize   int             `json:"sampleSize"`
	PostLimit    int             `json:"postLimit"`
	RecordCount  int             `json:"recordCount"`
	Enriching    bool            `json:"enriching"`
	CreatedAt    time.Time       `json:"createdAt"`
	Data         []DatasetRecord `json:"data,omitempty"`
}

// RecordsOfType returns the records with the given type in stored order.
func (d *Dataset) RecordsOfType(recordType string) []DatasetRecord {
	var out []DatasetRecord
	for _, r := range d.Data {
		if r.RecordType == recordType {
			out = append(out, r)
		}
	}
	return out
}

// Latest returns the most recent record of the given type.
func (d *Dataset) Latest(recordType string) (DatasetRecord, bool) {
	var (
		best  DatasetRecord
		found bool
	)
	for _, r := range d.Data {
		if r.RecordType != recordType {
			continue
		}
		if !found || !r.CreatedAt.Before(best.CreatedAt) {
			best = r
			found = true
		}
	}
	return best, found
}

// StepItems groups scrape items by the step that produced them.
func (d *Dataset) StepItems() map[string][]json.RawMessage {
	out := make(map[string][]json.RawMessage)
	for _, r := range d.RecordsOfType(RecordTypeScrapeItem) {
		out[r.StepID] = append(out[r.StepID], r.Payload)
	}
	return out
}
