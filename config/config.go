// Package config parses the host process's command-line configuration, the
// same stdlib-flag way the teacher's config package does it: this layer
// never pulls in a flag/viper-style library because the teacher doesn't
// either.
package config

import (
	"flag"
)

// Config holds everything main.go needs to stand up either a client or a
// server transaction endpoint.
type Config struct {
	// Role is either "server" (the uitest_daemon side) or "client" (the
	// harness side).
	Role string
	// Token names the channel pair a client/server use to find each other.
	Token string
	// SocketPath selects the unix socket carrier when non-empty; otherwise
	// the in-process broker carrier is used (intended for same-process
	// demos and tests, not real client/server processes).
	SocketPath string
	// Trace, when set, enables zipkin tracing; spans are reported to the
	// collector at http://localhost:9411 (see io/trace).
	Trace bool
	// TraceEndpoint is the host:port of this process's local zipkin
	// endpoint, passed with ServiceName to zipkin.NewEndpoint.
	TraceEndpoint string
	// ServiceName identifies this process to the tracer.
	ServiceName string
}

// Get parses command-line flags into a Config.
func Get() *Config {
	role := flag.String("role", "server", "role (server or client)")
	token := flag.String("token", "default", "channel token shared by the client/server pair")
	socketPath := flag.String("socket", "", "unix socket path; empty selects the in-process broker carrier")
	trace := flag.Bool("trace", false, "enable zipkin tracing")
	serviceName := flag.String("service", "uitransact", "service name reported to the tracer")
	traceEndpoint := flag.String("trace-endpoint", "localhost:0", "local zipkin endpoint (host:port)")
	flag.Parse()

	return &Config{
		Role:          *role,
		Token:         *token,
		SocketPath:    *socketPath,
		Trace:         *trace,
		ServiceName:   *serviceName,
		TraceEndpoint: *traceEndpoint,
	}
}
