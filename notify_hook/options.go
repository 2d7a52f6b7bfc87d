package notifyhook

// Option configures a Listener.
type Option func(*Listener)

// PayloadFunc builds a custom event payload for a specific event type.
// The args parameter contains the default payload and the returned value
// becomes event.Event.Data.
type PayloadFunc func(args any) (any, error)

// WithEvents restricts the listener to emit only the listed event types.
// By default all event types are enabled. Unknown types are silently
// ignored.
func WithEvents(events ...string) Option {
	return func(l *Listener) {
		l.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			l.enabled[e] = true
		}
	}
}

// WithPayloadFunc registers a custom payload builder for the given event
// type. The function replaces the default JSON payload for that event.
func WithPayloadFunc(eventType string, fn PayloadFunc) Option {
	return func(l *Listener) {
		if l.payloads == nil {
			l.payloads = make(map[string]PayloadFunc)
		}
		l.payloads[eventType] = fn
	}
}
