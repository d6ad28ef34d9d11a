// Package protocol implements the text wire protocol of the message channel.
//
// The protocol gives reliable, ordered delivery of application messages over
// transports that may drop at any time. Both peers keep every message they
// sent until the other side acknowledges it, so a resumed connection can
// retransmit exactly what is missing.
//
// # Wire Format
//
// A frame is a block of newline-separated lines. Lines may end with "\n" or
// "\r\n" and a single trailing line terminator does not produce an empty
// final line. Fields are positional:
//
//	<command>
//	[connection token]   omitted by the initial handshake request
//	[ack count]          number of peer messages received so far
//	[first sequence]     sequence number of the first message line
//	<message>*           zero or more encoded application messages
//
// # Commands
//
//   - N  (client → server): handshake request; the reply carries the token,
//     the heartbeat interval and the connection timeout in milliseconds
//   - S  (both): message batch
//   - R  (client → server): resume after reconnect with the unacknowledged queue
//   - H  (client → server): heartbeat carrying the current ack count
//   - HA (server → client): heartbeat reply carrying the server's ack count
//   - C  (both): close request from the client, closed notice from the server
//   - CR (server → client): server-initiated close request
//   - CA (client → server): client acknowledgment of CR
//
// # Delivery
//
// Every sent message is appended to an outgoing queue and receives sequence
// number sentCounter+len(queue)-1. An ack count acknowledges all messages
// with a lower sequence number; the acknowledged prefix is trimmed from the
// queue. On receipt a message whose sequence is below receivedCounter is a
// duplicate and is discarded. See [Delivery].
//
// # Long-Poll Bodies
//
// The HTTP long-poll transport carries the same counters without the command
// and token lines; the token travels in the "cid" query parameter and the
// HTTP status code replaces the command. See [PollBatch] and [PollHandshake].
package protocol
