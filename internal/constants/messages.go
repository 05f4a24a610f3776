// Package constants holds the paths and message formats used by the
// nexbackup CLI.
package constants

// Config messages
const (
	// MsgConfigLoadError is the error message when configuration loading fails.
	MsgConfigLoadError = "❌ Failed to load configuration: %v\n"

	// MsgConfigValidationError is the message when configuration validation fails.
	MsgConfigValidationError = "❌ Configuration validation failed:\n"

	// MsgConfigValid is the message when configuration is successfully loaded and validated.
	MsgConfigValid = "✅ Configuration is valid: %s\n"

	// MsgConfigValidatePrefix is the prefix for configuration validation errors.
	MsgConfigValidatePrefix = "  - %v\n"

	// MsgStartupError is printed when the application fails to start.
	MsgStartupError = "❌ Failed to start: %v\n"
)

// Task messages
const (
	// MsgTaskAdded is the success message when a task is stored.
	MsgTaskAdded = "✅ Task added\n"

	MsgTaskID        = "   ID:        %s\n"
	MsgTaskUser      = "   User:      %s\n"
	MsgTaskFiles     = "   Files:     %s\n"
	MsgTaskServers   = "   Servers:   %s\n"
	MsgTaskFrequency = "   Frequency: %s\n"

	// MsgTaskActivateNote reminds that jobs only run inside the daemon.
	MsgTaskActivateNote = "\nNote: run 'nexbackup coordinator enable %s' and keep 'nexbackup serve' running to schedule it\n"

	// MsgTasksImported is the summary of an import.
	MsgTasksImported = "✅ Imported %d task(s), %d failed\n"

	// MsgTaskImportFailed reports one definition rejected during import.
	MsgTaskImportFailed = "❌ %s: %v\n"

	// MsgNoTasks is printed when a user has no tasks.
	MsgNoTasks = "No tasks for %s\n"

	// MsgNoStatus is printed when no status records match.
	MsgNoStatus = "No status records\n"
)

// Coordinator messages
const (
	MsgCoordinatorEnabled  = "✅ Coordinator enabled for %s\n"
	MsgCoordinatorDisabled = "✅ Coordinator disabled for %s\n"
)
