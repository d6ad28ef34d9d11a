package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// Error codes used by the channel command.
const (
	CodeConfigNotFound   = "C001"
	CodeConfigParse      = "C002"
	CodeConfigInvalid    = "C003"
	CodeListen           = "C010"
	CodeShutdownTimeout  = "C011"
	CodeConnectFailed    = "C020"
	CodeConnectionClosed = "C021"
	CodeInvalidURL       = "C022"
	CodeUnknownTransport = "C023"
	CodeMessageRejected  = "C030"
	CodeInvalidArgument  = "C040"
)

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Config Errors (C001-C009)
	// ============================================

	CodeConfigNotFound: {
		Category: CategoryConfig,
		Message:  "Config file not found",
		Detail:   "The configuration file given with --config does not exist.",
	},
	CodeConfigParse: {
		Category: CategoryConfig,
		Message:  "Config file could not be parsed",
		Detail:   "The configuration file is not valid YAML or JSON, or it contains an unknown key.",
	},
	CodeConfigInvalid: {
		Category: CategoryConfig,
		Message:  "Invalid config value",
		Detail:   "A configuration value is out of range.",
	},

	// ============================================
	// Server Errors (C010-C019)
	// ============================================

	CodeListen: {
		Category: CategoryServer,
		Message:  "Could not listen on address",
		Detail:   "The server could not bind its listen address. Another process may be using the port.",
	},
	CodeShutdownTimeout: {
		Category: CategoryServer,
		Message:  "Shutdown timed out",
		Detail:   "Open connections did not finish before the shutdown timeout.",
	},

	// ============================================
	// Transport Errors (C020-C029)
	// ============================================

	CodeConnectFailed: {
		Category: CategoryTransport,
		Message:  "Could not connect",
		Detail:   "No transport reached the server before the reconnection attempts ran out.",
	},
	CodeConnectionClosed: {
		Category: CategoryTransport,
		Message:  "Connection closed",
		Detail:   "The connection was closed by the server or could not be resumed.",
	},
	CodeInvalidURL: {
		Category: CategoryTransport,
		Message:  "Invalid server URL",
		Detail:   "The server URL must be an absolute http, https, ws or wss URL.",
	},
	CodeUnknownTransport: {
		Category: CategoryTransport,
		Message:  "Unknown transport",
		Detail:   "The transport must be one of auto, socket or poll.",
	},

	// ============================================
	// Protocol Errors (C030-C039)
	// ============================================

	CodeMessageRejected: {
		Category: CategoryProtocol,
		Message:  "Message rejected",
		Detail:   "The message could not be posted on the connection.",
	},

	// ============================================
	// CLI Errors (C040-C049)
	// ============================================

	CodeInvalidArgument: {
		Category: CategoryCLI,
		Message:  "Invalid argument",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
