package api

// Environment variables used by gemato.
const (
	// LogLevelEnv is the environment variable used to set the log level.
	LogLevelEnv = "GEMATO_LOGGING"
	// ConfigFileEnv is the environment variable used to set the configuration file.
	ConfigFileEnv = "GEMATO_CONFIG_FILE"
)
