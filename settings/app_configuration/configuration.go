package app_configuration

// Configuration is the application-level (not engine-level) configuration.
type Configuration struct {
	// Debug shortens the idle timeout, pins the web port and switches to
	// console logging.
	Debug bool `yaml:"debug"`
	// WebPort is the local control-plane port; 0 picks a free one.
	WebPort int `yaml:"web_port"`
	// MachineName is the name announced to peers, generated on first run.
	MachineName string `yaml:"machine_name"`
	// GuestLocalPort is the loopback port a joined room is forwarded to and
	// re-advertised from.
	GuestLocalPort uint16 `yaml:"guest_local_port"`
	// RelayServers are the public engine peers used for NAT traversal.
	RelayServers []string `yaml:"relay_servers"`
}
