package manager

// EventKind tags a blocking control-plane event (spec.md §4.F's table,
// §9's "single-slot mailbox... tagged payload union").
type EventKind int

const (
	EventAddEndpoint EventKind = iota
	EventRemoveEndpoint
	EventCloseEndpoint
	EventShutdown
	EventSuspend
	EventResume
)

// Event is the tagged payload sent over a manager's blocking-event
// channel. Endpoint is nil for Shutdown/Suspend/Resume. Done is closed
// by the manager goroutine once it has processed the event, the
// Go-channel equivalent of spec.md's "criticalSectionBlockingEvent +
// eventSemBlock" handshake.
type Event struct {
	Kind     EventKind
	Endpoint *EndpointState
	Done     chan struct{}
}

func newEvent(kind EventKind, ep *EndpointState) Event {
	return Event{Kind: kind, Endpoint: ep, Done: make(chan struct{})}
}

// send posts ev and blocks until the manager acknowledges it,
// mirroring the consumer side of spec.md's handshake.
func send(ch chan Event, ev Event) {
	ch <- ev
	<-ev.Done
}
