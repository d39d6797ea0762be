// Package metrics exposes server-wide expvar counters, grounded on the
// teacher's pkg/agent.AgentMetrics pattern.
package metrics

import "expvar"

// Server holds the process-wide counters published under expvar.
type Server struct {
	ActiveSessions  *expvar.Int
	UtterancesFinal *expvar.Int
	DecodeErrors    *expvar.Int
	TransportErrors *expvar.Int
	PartialsEmitted *expvar.Int
}

// New creates a Server and publishes its counters under the given expvar
// namespace prefix (e.g. "wenet_server").
func New(namespace string) *Server {
	return &Server{
		ActiveSessions:  expvar.NewInt(namespace + "_active_sessions"),
		UtterancesFinal: expvar.NewInt(namespace + "_utterances_final"),
		DecodeErrors:    expvar.NewInt(namespace + "_decode_errors"),
		TransportErrors: expvar.NewInt(namespace + "_transport_errors"),
		PartialsEmitted: expvar.NewInt(namespace + "_partials_emitted"),
	}
}
