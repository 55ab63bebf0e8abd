// Package audit implements async event dispatching for security-relevant
// gate operations.
//
// # Components
//
//   - [Sink] receives events (channel, JSON writer, logrus, no-op).
//   - [Dispatcher] is a buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event] is the structured record: timestamp, type, subject, family, client key, metadata.
//
// This package owns buffering and delivery. It does not decide which events
// to emit; the gate does.
package audit
