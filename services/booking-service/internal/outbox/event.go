package outbox

// Event is the domain event envelope written to the outbox table. Events are
// published to Kafka asynchronously; the topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	// EventAppointmentBooked is emitted once per notification recipient when
	// a booking commits.
	EventAppointmentBooked = "booking.appointment.booked.v1"
	// EventAppointmentStatusChanged is emitted when an appointment moves to a
	// new lifecycle status.
	EventAppointmentStatusChanged = "booking.appointment.status_changed.v1"
)
