package ir

// Version constants for the journal format and engine.
const (
	// JournalVersion is the schema version of journaled commands.
	JournalVersion = "1"

	// EngineVersion is the roomline engine version.
	EngineVersion = "0.1.0"
)
