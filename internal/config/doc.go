// Package config loads the channel command configuration.
//
// The configuration is a YAML file, channel.yaml by convention, passed with
// --config. JSON is accepted as well. Every key is optional; unset keys keep
// the defaults of the server and client packages. Unknown keys are
// rejected so typos do not go unnoticed.
//
// # Configuration File Structure
//
//	server:
//	  address: ":8080"
//	  socketPath: /channel/ws
//	  pollPath: /channel/poll
//	  metrics: true
//	  heartbeat: 20s
//	  connectionTimeout: 2m
//	  longPollTimeout: 20s
//	  maxQueueLength: 300
//	  allowedOrigins: ["app.example.com"]
//	  codec: json
//	client:
//	  url: http://localhost:8080
//	  transport: auto
//	  maxReconnectionAttempts: 12
//	  reconnectionDelay: 5s
//	log:
//	  level: debug
//	  format: json
//
// Durations are Go duration strings. Plain integers are milliseconds.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	logger := cfg.Logger(os.Stderr)
//	srv := server.New(cfg.ServerOptions(logger, prometheus.NewRegistry()), handler)
package config
