package enums

// EventType names the outbox events emitted by the import pipeline.
type EventType string

const (
	EventItemImported     EventType = "item.imported"
	EventItemDuplicate    EventType = "item.duplicate"
	EventItemFailed       EventType = "item.failed"
	EventSessionImported  EventType = "session.imported"
	EventSessionRecovered EventType = "session.recovered"
)

// String returns the literal string for the event type.
func (e EventType) String() string {
	return string(e)
}
