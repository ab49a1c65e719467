// Package calendar exposes a calendar as an MCP tool server.
package calendar

import (
	"context"
	"time"
)

// DefaultTitle is used for events without a summary.
const DefaultTitle = "No Title"

// Event is the wire form of a calendar event. Start and End keep the
// backend's representation: an RFC 3339 timestamp or a date for all-day
// events.
type Event struct {
	Title       string `json:"title"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Status      string `json:"status"`
}

// NewEvent describes an event to create.
type NewEvent struct {
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
}

// CreatedEvent identifies a newly created event.
type CreatedEvent struct {
	ID   string
	Link string
}

// Backend is the set of calendar capabilities the tool server needs.
type Backend interface {
	// ListEvents returns single events overlapping [from, to) ordered by start.
	ListEvents(ctx context.Context, from, to time.Time) ([]Event, error)

	// SearchEvents returns up to max events matching a free text query.
	SearchEvents(ctx context.Context, query string, max int) ([]Event, error)

	// CreateEvent inserts an event into the primary calendar.
	CreateEvent(ctx context.Context, ev NewEvent) (*CreatedEvent, error)
}

// DayRange returns the UTC day containing now.
func DayRange(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// WeekRange returns the UTC week containing now, starting Monday 00:00.
func WeekRange(now time.Time) (time.Time, time.Time) {
	day, _ := DayRange(now)
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}
