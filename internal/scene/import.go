package scene

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stagelink/x32mgr/internal/events"
	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/internal/osc"
	"github.com/stagelink/x32mgr/internal/session"
)

// ImportResult summarizes a scene or backup push to the console.
type ImportResult struct {
	ParameterCount int           `json:"parameter_count"`
	SkippedCount   int           `json:"skipped_count"`
	Duration       time.Duration `json:"duration"`

	// FirmwareMismatch is set when the file's firmware major differs from
	// the console's. The load proceeds anyway.
	FirmwareMismatch bool `json:"firmware_mismatch"`

	// LoadUncertain is set when the console failed the liveness probe after
	// the final set was sent. Parameters may or may not all have applied.
	LoadUncertain bool `json:"load_uncertain"`
}

// Importer pushes scene files back to the console as a paced stream of
// unacknowledged set-commands.
type Importer struct {
	Session *session.Session
	Bus     *events.Bus

	// Pace is the gap between successive sets. Defaults to 5ms, which the
	// console absorbs without dropping.
	Pace time.Duration

	// ProbeTimeout bounds the trailing liveness probe. Defaults to 2s.
	ProbeTimeout time.Duration
}

// Import decodes fileBytes and applies every valued record to the console.
// Records without values (timeout sentinels from a lossy export) are skipped.
// A firmware major mismatch is reported on the bus and in the result but does
// not stop the load.
func (im *Importer) Import(ctx context.Context, fileBytes []byte, progress Progress) (*ImportResult, error) {
	start := time.Now()

	header, records, err := Read(fileBytes)
	if err != nil {
		return nil, fmt.Errorf("decode scene file: %w", err)
	}

	pace := im.Pace
	if pace <= 0 {
		pace = 5 * time.Millisecond
	}
	probeTimeout := im.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}

	res := &ImportResult{}

	if info, ok := im.Session.Identity(); ok {
		if firmwareMajor(header.Firmware) != firmwareMajor(info.Firmware) {
			res.FirmwareMismatch = true
			logger.Warn("scene file firmware differs from console",
				"file_firmware", header.Firmware,
				logger.KeyFirmware, info.Firmware,
			)
			if im.Bus != nil {
				im.Bus.Publish(events.KindError, events.Error{
					Code: "firmware_mismatch",
					Message: fmt.Sprintf("scene file firmware %s, console %s",
						header.Firmware, info.Firmware),
				})
			}
		}
	}

	logger.Info("import started",
		logger.KeyTotal, len(records),
		logger.KeyScene, header.Name,
	)

	total := len(records)
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, session.ErrCanceled
		}

		if len(rec.Args) == 0 {
			res.SkippedCount++
		} else {
			msg := osc.NewMessage(rec.Address, rec.Args...)
			if err := im.Session.Send(msg); err != nil {
				return res, fmt.Errorf("%w: %v", ErrSessionLost, err)
			}
			res.ParameterCount++
		}

		if progress != nil {
			progress(i+1, total, "")
		}
		if im.Bus != nil {
			im.Bus.Publish(events.KindImportProgress, events.Progress{
				Completed: i + 1,
				Total:     total,
			})
		}

		if i+1 < total {
			select {
			case <-ctx.Done():
				return res, session.ErrCanceled
			case <-time.After(pace):
			}
		}
	}

	// Sets are unacknowledged, so probe once at the end to learn whether the
	// console is still with us.
	if _, err := im.Session.Request(ctx, "/xinfo", nil, probeTimeout); err != nil {
		res.LoadUncertain = true
		logger.Warn("console did not answer post-import probe",
			logger.KeyError, err.Error())
	}

	res.Duration = time.Since(start)
	logger.Info("import finished",
		logger.KeyTotal, res.ParameterCount,
		"skipped", res.SkippedCount,
		logger.KeyDurationMs, res.Duration.Milliseconds(),
	)
	return res, nil
}

// firmwareMajor extracts the major version from a firmware string like 4.08.
func firmwareMajor(fw string) string {
	if i := strings.IndexByte(fw, '.'); i >= 0 {
		return fw[:i]
	}
	return fw
}
