package internal

// Option configures the service run loop before any backend is built.
type Option func(*application)

// application carries the settings Run assembles the ledger, store, and
// HTTP server from.
type application struct {
	config *Config
}

// WithConfig supplies the loaded service configuration. Run requires
// it; there is no implicit default.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}
