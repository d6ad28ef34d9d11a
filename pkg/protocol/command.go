package protocol

// Command identifies the type of a frame. It is always the first line.
type Command string

const (
	CmdNew          Command = "N"  // Handshake request and reply
	CmdSend         Command = "S"  // Message batch
	CmdReconnect    Command = "R"  // Resume with unacknowledged queue
	CmdHeartbeat    Command = "H"  // Client keep-alive
	CmdHeartbeatAck Command = "HA" // Server keep-alive reply
	CmdClose        Command = "C"  // Client close request / server closed notice
	CmdCloseRequest Command = "CR" // Server-initiated close request
	CmdCloseAck     Command = "CA" // Client acknowledgment of CR
)

// String returns the wire representation of the command.
func (c Command) String() string {
	return string(c)
}

// FromClient reports whether the command may be sent by a client.
func (c Command) FromClient() bool {
	switch c {
	case CmdNew, CmdSend, CmdReconnect, CmdHeartbeat, CmdClose, CmdCloseAck:
		return true
	}
	return false
}

// FromServer reports whether the command may be sent by a server.
func (c Command) FromServer() bool {
	switch c {
	case CmdNew, CmdSend, CmdHeartbeatAck, CmdClose, CmdCloseRequest:
		return true
	}
	return false
}

// Reasons carried by server close frames.
const (
	ReasonExpired = "Expired"
	ReasonClosed  = "Closed"
	ReasonClose   = "Close"
)
