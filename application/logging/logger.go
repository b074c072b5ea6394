package logging

// Logger is the narrow logging contract consumed across the application.
// Implementations live in infrastructure/logging.
type Logger interface {
	Printf(format string, v ...any)
}
