// Package dispatch executes tool calls against backend services.
//
// # Overview
//
// The Client is the single entry point: given a tool name and arguments it
// resolves the owning service from the registry, picks a transport, performs
// the call under a timeout, memoizes successful results, and records every
// attempt in the audit log.
//
// # Call pipeline
//
//  1. Derive the cache key: sha256 of the tool name plus lexicographically
//     sorted argument pairs, truncated to 16 hex chars. Argument order never
//     affects the key.
//  2. Cache lookup. A hit returns immediately with Cached=true and still
//     writes an audit record, so audit coverage includes cache hits.
//  3. Registry lookup. An unknown tool fails fast with no audit record — no
//     call occurred.
//  4. Transport selection from the tool's declared transport: "rpc" uses the
//     gRPC transport, everything else HTTP.
//  5. Execute under the transport timeout (30s HTTP, 10s RPC by default).
//     Transport failures, timeouts, and non-success responses normalize into
//     a failed Result; nothing is thrown past this boundary and nothing is
//     retried automatically.
//  6. Successful payloads are cached with the configured TTL. Exactly one
//     audit record is enqueued per attempt, asynchronously and best-effort.
//
// # Transports
//
// HTTP posts JSON arguments to {httpBaseURL}/tools/{toolName} and expects
// {success, data|error}. RPC invokes the generic
// /llmgateway.ToolService/Execute method with a JSON codec, so no
// per-service protobuf stubs are required; the tool name travels in the
// request body. Health probing uses GET /health over HTTP and the standard
// gRPC health service over RPC, both with 5 second deadlines.
package dispatch
