package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across log statements so that console traffic,
// scene operations, and HTTP requests can be correlated when aggregated.
const (
	// Console session
	KeyConsoleIP   = "console_ip"   // Target console IP
	KeyConsolePort = "console_port" // Target console UDP port
	KeyState       = "state"        // Session connection state
	KeyMode        = "mode"         // Transport mode: udp, mock
	KeyFirmware    = "firmware"     // Console firmware version

	// OSC traffic
	KeyAddress = "address" // OSC parameter address
	KeyArgs    = "args"    // OSC argument summary
	KeyAttempt = "attempt" // Retry attempt number
	KeyPending = "pending" // Pending request count

	// Scenes and files
	KeySlot     = "slot"     // Scene/snippet slot index
	KeyScene    = "scene"    // Scene display name
	KeySceneID  = "scene_id" // Store record identifier
	KeyFilename = "filename" // Backup file name (basename)
	KeyRecords  = "records"  // Scene file record count

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyCompleted  = "completed"   // Progress: completed count
	KeyTotal      = "total"       // Progress: total count
	KeySection    = "section"     // Manifest section label
)

// Err returns a slog.Attr for an error. Nil errors produce an empty attr.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Address returns a slog.Attr for an OSC parameter address.
func Address(addr string) slog.Attr {
	return slog.String(KeyAddress, addr)
}

// Slot returns a slog.Attr for a scene or snippet slot index.
func Slot(i int) slog.Attr {
	return slog.Int(KeySlot, i)
}

// Scene returns a slog.Attr for a scene display name.
func Scene(name string) slog.Attr {
	return slog.String(KeyScene, name)
}

// Filename returns a slog.Attr for a backup file basename.
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// ConsoleIP returns a slog.Attr for the console IP address.
func ConsoleIP(ip string) slog.Attr {
	return slog.String(KeyConsoleIP, ip)
}

// State returns a slog.Attr for a session connection state.
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
