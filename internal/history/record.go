// Package history keeps itinerary history records in a KV store: one JSON
// value per record plus a per-user list of record ids, with filtering,
// sorting, and pagination done in memory after retrieval.
package history

import "errors"

// Key layout shared with earlier deployments of the service. Do not change.
const (
	RecordKeyPrefix    = "itinerary:history:"
	UserIndexKeyPrefix = "user:history:list:"
	CounterKey         = "itinerary:history:id:counter"
)

// TimeLayout is the createdAt format. It is fixed width and zero padded so
// that string order equals chronological order.
const TimeLayout = "2006-01-02 15:04:05"

// ErrInvalidRecord is returned by Save for records it refuses to store.
var ErrInvalidRecord = errors.New("invalid history record")

// Record is one saved itinerary.
type Record struct {
	ID        string `json:"id"`
	Content   string `json:"generatedItinerary"`
	CreatedAt string `json:"createdAt"`
	Title     string `json:"title"`
	UserID    *int   `json:"userId"`
	Username  string `json:"username"`
}

// Query selects a page of records. Blank string filters and a nil UserID
// are ignored.
type Query struct {
	PageIndex int    `json:"pageIndex"`
	PageSize  int    `json:"pageSize"`
	UserID    *int   `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
	Title     string `json:"title,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

// Page is the envelope returned for a Query.
type Page struct {
	Records     []Record `json:"records"`
	Total       int      `json:"total"`
	Current     int      `json:"current"`
	Size        int      `json:"size"`
	Pages       int      `json:"pages"`
	HasPrevious bool     `json:"hasPrevious"`
	HasNext     bool     `json:"hasNext"`
}

// NewPage fills in the derived fields. size must be positive.
func NewPage(records []Record, total, current, size int) Page {
	if records == nil {
		records = []Record{}
	}
	pages := (total + size - 1) / size
	return Page{
		Records:     records,
		Total:       total,
		Current:     current,
		Size:        size,
		Pages:       pages,
		HasPrevious: current > 1,
		HasNext:     current < pages,
	}
}

// UserID returns a pointer to id, for building records and queries.
func UserID(id int) *int {
	return &id
}
