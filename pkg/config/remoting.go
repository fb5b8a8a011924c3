package config

// RemotingConfig tunes the transport contract: quarantine gates,
// management command handling and trust restrictions.
type RemotingConfig struct {
	// GateTimeoutMS is how long a UID-less gate excludes an address
	// before reconnection attempts are allowed again.
	GateTimeoutMS int `mapstructure:"gate_timeout_ms"`

	// CommandTimeoutMS bounds execution of one management command.
	CommandTimeoutMS int `mapstructure:"command_timeout_ms"`

	// OutboundQueue is the per-destination send queue depth; overflow
	// is dropped (best-effort delivery).
	OutboundQueue int `mapstructure:"outbound_queue"`

	// UntrustedMode rejects administrative commands arriving through
	// the management channel.
	UntrustedMode bool `mapstructure:"untrusted_mode"`

	// LogLifecycleEvents raises transport lifecycle logging to Info.
	LogLifecycleEvents bool `mapstructure:"log_lifecycle_events"`
}

// TransportConfig describes one transport kind and its listen endpoints.
// Example YAML:
// transports:
//   - kind: tcp
//     listen: ["0.0.0.0:2552"]
//   - kind: udp
//     listen: ["0.0.0.0:2552"]
//   - kind: quic
//     listen: ["0.0.0.0:2553"]
//   - kind: mem
//     listen: ["inproc:1"]
//
// mem endpoints are logical names in host:port form so the bound
// address stays parseable.
type TransportConfig struct {
	Kind   string   `mapstructure:"kind"`
	Listen []string `mapstructure:"listen"`
}
