package audithook

import "log/slog"

// Option configures a Listener.
type Option func(*Listener)

// WithActions restricts the listener to emit only the listed actions.
// By default all actions are enabled. Unknown actions are silently ignored.
//
// Example:
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobCompleted,
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobDLQ,
//	    ),
//	)
func WithActions(actions ...string) Option {
	return func(l *Listener) {
		l.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			l.enabled[a] = true
		}
	}
}

// WithLogger sets a custom logger for the listener.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) { l.logger = logger }
}
