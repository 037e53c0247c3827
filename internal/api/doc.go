// Package api provides the HTTP REST API and the agent WebSocket
// server for AgentLink Core.
//
// Two listeners run side by side: the REST API serves user-facing
// endpoints (login, pairing codes, task queueing, automation, audit)
// plus the polling fallback for agents, while a dedicated WebSocket
// listener carries live agent sessions on its own port.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
