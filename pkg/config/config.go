package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	LogLevel          string  // sets the log level (zap log level values)
	LogFormat         string  // text vs json
	LogFilter         string  // zapfilter rules, empty means no filtering
	EnableTelemetry   bool    // enable telemetry
	TelemetryEndpoint string  // endpoint for telemetry, empty means stdout
	ProfilingPort     int     // port for profiling
	TimeStep          float64 // simulation time step in seconds
	StartDelay        float64 // seconds before vehicles are released
	CarSource         string  // base URL or directory for car configs
	WaitForCarSource  string  // duration to wait for the car source to be ready
)
