package errors

type ExitCode int

const (
	// Startup
	ConfigLoadFailureExitCode ExitCode = 70
	ConfigInvalidExitCode     ExitCode = 71

	// Runtime
	AdminServeFailureExitCode ExitCode = 80
	NodeMapFailureExitCode    ExitCode = 81

	SimulationFailureExitCode ExitCode = 90
)
