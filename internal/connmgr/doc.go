// ABOUTME: Package documentation for the realtime connection layer.
// ABOUTME: Describes the envelope protocol, session lifecycle, and fan-out model.

// Package connmgr manages persistent websocket connections and the message
// envelope protocol spoken over them.
//
// # Sessions
//
// Each accepted connection becomes a Session with a server-assigned uuid.
// A session services its connection with a strictly sequential loop: read a
// frame, decode and validate it, dispatch to the handler for its type, and
// only then read the next frame. Ordering within a connection is therefore
// guaranteed; different connections run fully concurrently.
//
// # Envelopes
//
// Inbound envelopes carry a closed set of types: generate, conversational,
// stream, and mcp_query. Outbound envelopes mirror the request's message_id
// so clients can correlate responses; streaming requests produce a
// stream_start, a sequence of stream_chunk envelopes, and a terminal
// stream_end or stream_error. Malformed or unknown frames are answered with
// an error envelope and the connection stays open.
//
// # Fan-out
//
// The Manager indexes open sessions by user id so BroadcastToUser can push
// an envelope to every connection a user has open. Disconnects remove the
// session from both the manager and the fan-out index and cancel any work
// still running for its messages.
package connmgr
