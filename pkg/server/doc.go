// Package server provides the server side of the channel protocol.
//
// A Registry holds every logical connection, keyed by the token handed out
// in the handshake. A logical connection survives the loss of its physical
// transport: the client reconnects with the same token, both sides
// acknowledge what they received, and the unacknowledged tail of each queue
// is resent.
//
// # Architecture
//
//   - Registry: connection records, frame servicing, posting and sweeping
//   - Connection: per-connection delivery state guarded by its own mutex
//   - Transport: one physical connection (a WebSocket or a held poll)
//   - Handler: application callbacks for connect, message and disconnect
//   - Server: chi router, Prometheus endpoint and graceful shutdown
//
// # Endpoints
//
// SocketHandler upgrades to a WebSocket and passes every text frame to
// Registry.Service. PollHandler implements the HTTP long-poll transport on
// the same records, so a client may use either.
//
// # Sweeping
//
// After SweepDelay the registry checks every connection each SweepInterval.
// A connection idle longer than ConnectionTimeout is removed. A socket that
// has been silent for longer than the heartbeat interval plus IdleMargin is
// closed, which makes the client reconnect.
//
// # Example Usage
//
//	cfg := server.DefaultConfig().WithAddress(":9000")
//	srv := server.New(cfg, server.HandlerFuncs{
//	    Message: func(r *server.Registry, token string, msg any) {
//	        r.Post(token, msg)
//	    },
//	})
//	srv.Run()
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Handler callbacks are
// invoked without locks held and may call Post, Terminate or Close.
package server
