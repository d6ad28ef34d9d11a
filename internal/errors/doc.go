// Package errors provides structured, actionable error messages for the
// channel command.
//
// Every error carries a code (e.g., "C002") that maps to a category, a
// short message and a longer explanation. Errors can point at a position
// in the configuration file and suggest a fix.
//
// # Error Categories
//
//   - config: the configuration file is missing, malformed or out of range
//   - server: the server could not listen or shut down cleanly
//   - transport: a client could not connect or lost its connection
//   - protocol: a message could not be posted
//   - cli: invalid command line arguments
//
// # Usage
//
//	err := errors.New(errors.CodeConfigParse).
//	    Wrap(cause).
//	    WithLocationFromError("channel.yaml", cause).
//	    WithSuggestion("Check the indentation of the server section")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR C002: Config file could not be parsed
//	//
//	//   channel.yaml:3
//	//
//	//      1 │ server:
//	//      2 │   addr: ":8080"
//	//   →  3 │  heartbeat: 20s
//	//      4 │
//	//
//	//   The configuration file is not valid YAML or JSON, or it contains an
//	//   unknown key.
//	//
//	//   Cause: yaml: line 3: did not find expected key
//	//
//	//   Hint: Check the indentation of the server section
package errors
