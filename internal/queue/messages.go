package queue

import "time"

// RunMsg points a worker at one queued background run. The run record in
// the database is the source of truth; the message only carries the key.
type RunMsg struct {
	RunID string `json:"run_id"`
}

// IngestEntity is one extracted entity mention group inside an ingest
// message. Entities are keyed by the extraction service's public id since
// database ids are not known upstream.
type IngestEntity struct {
	PublicID  string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Count     int      `json:"count"`
	Sentences []string `json:"sentences,omitempty"`
}

// IngestMsg carries one content unit and its extracted entity mentions.
type IngestMsg struct {
	UnitPublicID string         `json:"content_unit_id"`
	Title        string         `json:"title"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
	Entities     []IngestEntity `json:"entities"`
}
