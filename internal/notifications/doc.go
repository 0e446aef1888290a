// Package notifications delivers session and maintenance events via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. Each event class
// can be switched off in the [notifications] section; suppressed events
// return nil without a network call.
//
// Dispatcher and maintenance code depend only on the Service interface.
package notifications
