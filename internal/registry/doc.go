// Package registry maps tool names to the backend services that own them.
//
// # Overview
//
// Every tool the gateway can dispatch is declared by exactly one backend
// service. The registry holds that mapping plus each service's connection
// details (HTTP base URL and optional gRPC host/port), and each tool's input
// schema used to build tool-aware prompts.
//
// # Bootstrap
//
// The registry is populated once at startup from a YAML file:
//
//	services:
//	  - name: users-svc
//	    http_base_url: http://users-svc:3051
//	    rpc_host: users-svc
//	    rpc_port: 50051
//	    tools:
//	      - name: get_user
//	        description: Fetch a user profile
//	        transport: rpc
//	        input_schema:
//	          required: [userId]
//	          properties:
//	            userId: {type: string, description: User identifier}
//
// After bootstrap the registry is read-only; there is no runtime
// un-registration.
//
// # Transport selection
//
// Each tool carries an explicit transport ("rpc" or "http"). When the
// bootstrap file omits it, DefaultTransport falls back to the legacy
// name-prefix heuristic (get_/check_/list_ -> rpc). Declare transports
// explicitly in new registry files; the heuristic exists only so older files
// keep working.
//
// # Collisions
//
// Tool names are globally unique. Re-registering an existing tool name under
// a different service is last-write-wins and logged at Warn.
package registry
