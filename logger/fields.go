package logger

// Standard field names for consistent structured logging across the host.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldExtension   = "extension"
	FieldParticipant = "participant"
	FieldCommand     = "command"
	FieldTab         = "tab"
	FieldTopic       = "topic"

	// Contribution bookkeeping
	FieldContributions = "contributions"
	FieldViews         = "views"
	FieldStatusItems   = "status_items"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"
)
