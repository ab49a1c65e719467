package calendar

import (
	"context"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const primaryCalendar = "primary"

// GoogleBackend talks to the Google Calendar API.
type GoogleBackend struct {
	service *gcal.Service
}

var _ Backend = (*GoogleBackend)(nil)

// NewGoogleBackend creates a backend; opts usually carry an authorized
// HTTP client.
func NewGoogleBackend(ctx context.Context, opts ...option.ClientOption) (*GoogleBackend, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &GoogleBackend{service: svc}, nil
}

func (b *GoogleBackend) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	res, err := b.service.Events.List(primaryCalendar).
		TimeMin(from.UTC().Format(time.RFC3339)).
		TimeMax(to.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return convertEvents(res.Items), nil
}

func (b *GoogleBackend) SearchEvents(ctx context.Context, query string, max int) ([]Event, error) {
	res, err := b.service.Events.List(primaryCalendar).
		Q(query).
		MaxResults(int64(max)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	return convertEvents(res.Items), nil
}

func (b *GoogleBackend) CreateEvent(ctx context.Context, ev NewEvent) (*CreatedEvent, error) {
	created, err := b.service.Events.Insert(primaryCalendar, &gcal.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: "UTC"},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: "UTC"},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return &CreatedEvent{ID: created.Id, Link: created.HtmlLink}, nil
}

func convertEvents(items []*gcal.Event) []Event {
	events := make([]Event, 0, len(items))
	for _, item := range items {
		title := item.Summary
		if title == "" {
			title = DefaultTitle
		}
		events = append(events, Event{
			Title:       title,
			Start:       eventTime(item.Start),
			End:         eventTime(item.End),
			Description: item.Description,
			Location:    item.Location,
			Status:      item.Status,
		})
	}
	return events
}

// eventTime prefers the timestamp and falls back to the all-day date.
func eventTime(t *gcal.EventDateTime) string {
	if t == nil {
		return ""
	}
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}
