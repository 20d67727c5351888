/*
Package relay implements the server side of the chat: it accepts TCP
connections, binds account names through a presence handshake and forwards
message envelopes to their destination connection.

Each connection has a reader goroutine decoding frames and a writer goroutine
draining a bounded outbox. Everything else, the registry, the outbound queue
and each connection's state, belongs to the goroutine running Server.Serve,
which wakes on every frame and at least once per tick.

This package knows nothing about persistence; attach an Observer to learn
about registrations and deliveries.
*/
package relay
