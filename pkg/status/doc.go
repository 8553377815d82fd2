/*
Package status provides the push channel from the engine to observers.

The engine only knows the Bus interface: Send(observerKey, message) with
best-effort at-most-once delivery. Broker is the in-process
implementation: a keyed fan-out over buffered channels where slow
subscribers miss messages instead of blocking execution. Transports
(WebSocket framing, multiplexing) subscribe to a Broker and forward;
they are outside the engine.
*/
package status
