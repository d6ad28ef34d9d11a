package protocol

// Default protocol limits shared by both transports.
const (
	// DefaultMaxMessageSize caps the message bytes of one inbound frame or
	// poll body.
	DefaultMaxMessageSize = 256000

	// DefaultHeartbeatMillis is the heartbeat interval a server negotiates
	// unless configured otherwise.
	DefaultHeartbeatMillis = 20000

	// DefaultConnectionTimeoutMillis is the idle ceiling a server negotiates
	// unless configured otherwise.
	DefaultConnectionTimeoutMillis = 120000

	// DefaultMaxQueueLength is the server-side outbound queue ceiling.
	DefaultMaxQueueLength = 300

	// PollTimeoutMarginMillis is added to the negotiated long-poll timeout to
	// obtain the client's request deadline for a held request.
	PollTimeoutMarginMillis = 5000
)
