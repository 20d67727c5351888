/*
Package jim implements the JIM wire format used between chat clients and the
relay: a 4-byte big-endian length prefix followed by a UTF-8 JSON object.

Envelopes are decoded into one of the concrete variants (Presence, Message,
Exit, Response) and validated, so a frame missing a required key fails to
decode instead of surfacing later as a lookup error.
*/
package jim
