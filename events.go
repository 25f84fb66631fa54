package realtime

import "time"

// EventName is an application-facing event name as used with On/Off.
type EventName string

// Connection lifecycle events.
const (
	EventConnected          EventName = "connected"
	EventDisconnected       EventName = "disconnected"
	EventReconnecting       EventName = "reconnecting"
	EventError              EventName = "error"
	EventReconnectExhausted EventName = "reconnect_exhausted"
	// EventMessage carries the raw Envelope of any inbound type without a mapping.
	EventMessage EventName = "message"
)

// Domain events emitted for recognised inbound types. Their payload is the envelope's data.
const (
	EventAssetUpdated         EventName = "assetUpdated"
	EventTaskUpdated          EventName = "taskUpdated"
	EventTaskCreated          EventName = "taskCreated"
	EventTaskCompleted        EventName = "taskCompleted"
	EventCalendarEventCreated EventName = "calendarEventCreated"
	EventCalendarEventUpdated EventName = "calendarEventUpdated"
	EventNotification         EventName = "notification"
	EventUserActivity         EventName = "userActivity"
	EventInspectionScheduled  EventName = "inspectionScheduled"
	EventMaintenanceAlert     EventName = "maintenanceAlert"
	EventCollaborationUpdate  EventName = "collaborationUpdate"
	EventDocumentUploaded     EventName = "documentUploaded"
	EventPhaseTransition      EventName = "phaseTransition"
)

// Handler receives an event payload. The concrete type depends on the event:
// nil for EventConnected, DisconnectedPayload, ReconnectingPayload, ErrorPayload,
// Envelope for EventMessage and map[string]any for domain events.
type Handler func(payload any)

type DisconnectedPayload struct {
	Intentional bool
	Reason      string
}

type ReconnectingPayload struct {
	Attempt int
	Delay   time.Duration
}

type ErrorPayload struct {
	Err error
}

// inboundEvents is the only place where wire vocabulary meets application vocabulary.
var inboundEvents = map[MessageType]EventName{
	"asset_updated":          EventAssetUpdated,
	"task_updated":           EventTaskUpdated,
	"task_created":           EventTaskCreated,
	"task_completed":         EventTaskCompleted,
	"calendar_event_created": EventCalendarEventCreated,
	"calendar_event_updated": EventCalendarEventUpdated,
	"notification":           EventNotification,
	"user_activity":          EventUserActivity,
	"inspection_scheduled":   EventInspectionScheduled,
	"maintenance_alert":      EventMaintenanceAlert,
	"collaboration_update":   EventCollaborationUpdate,
	"document_uploaded":      EventDocumentUploaded,
	"phase_transition":       EventPhaseTransition,
}

// EventFor reports the application event an inbound message type maps to.
func EventFor(mt MessageType) (EventName, bool) {
	name, ok := inboundEvents[mt]
	return name, ok
}
