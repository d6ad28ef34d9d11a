// Package client implements the client side of the message channel.
//
// A [Conn] is one logical connection: it owns the connection state machine,
// the outgoing queue and the delivery counters, and survives any number of
// physical reconnects. Two transports drive it:
//
//   - [NewSocketConn] over a persistent full-duplex socket (see
//     [WebSocketDialer]) with heartbeats and resume on reconnect
//   - [NewPollConn] over HTTP long-polling (see [HTTPRequester])
//
// [Fallback] races a socket connection against a poll connection and
// commits to the first one that works.
//
// # State Machine
//
//	closed ──Connect──▶ connecting ──handshake──▶ ready ──Close──▶ closing
//	   ▲                   │  ▲                     │                 │
//	   └──── give up ──────┘  └──── transport lost ─┘                 │
//	   └──────────────────────── peer confirms close ─────────────────┘
//
// State and message listeners run synchronously, in order, on whichever
// goroutine is currently driving the connection, and never while the
// connection's internal lock is held. Listeners may call back into the
// connection (for example Post from OnMessage) but must not block.
//
// # Reconnection
//
// When the physical transport drops, the connection moves to connecting and
// retries immediately, then every ReconnectionDelay. It gives up and moves to
// closed after MaxReconnectionAttempts consecutive failures, or once the
// server-negotiated connection timeout has elapsed since the loss. Messages
// posted meanwhile are queued and delivered after the resume.
package client
