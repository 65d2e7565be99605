package scene

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stagelink/x32mgr/internal/events"
	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/internal/osc"
	"github.com/stagelink/x32mgr/internal/session"
)

// ErrSessionLost indicates the console stopped answering mid-transfer. The
// accompanying result, when non-nil, holds the partial capture.
var ErrSessionLost = errors.New("scene: console session lost")

// Progress receives completion counts during an export or import, together
// with the label of the manifest section being walked.
type Progress func(completed, total int, section string)

// Meta is the caller-supplied header content for an export. Firmware comes
// from the live console identity, not from the caller.
type Meta struct {
	Name       string
	Note       string
	SafeMask   int
	HasAliases int
}

// ExportResult summarizes a finished (or aborted) export.
type ExportResult struct {
	ParameterCount int           `json:"parameter_count"`
	ErrorCount     int           `json:"error_count"`
	Duration       time.Duration `json:"duration"`
	Bytes          []byte        `json:"-"`
}

// Exporter captures console state into scene or backup files by sweeping a
// parameter manifest through the session.
type Exporter struct {
	Session *session.Session
	Bus     *events.Bus

	// Policy tunes the sweep. The zero value uses the pacing an X32
	// sustains without dropping packets.
	Policy session.SweepPolicy
}

// ExportScene walks the scene-level manifest and renders a scene file.
func (e *Exporter) ExportScene(ctx context.Context, meta Meta, progress Progress) (*ExportResult, error) {
	return e.export(ctx, SceneManifest(), meta, progress)
}

// ExportConsoleBackup walks the full-console manifest, including every scene
// and snippet slot header, and renders a backup file.
func (e *Exporter) ExportConsoleBackup(ctx context.Context, meta Meta, progress Progress) (*ExportResult, error) {
	return e.export(ctx, BackupManifest(), meta, progress)
}

func (e *Exporter) export(ctx context.Context, man *Manifest, meta Meta, progress Progress) (*ExportResult, error) {
	start := time.Now()
	addrs := man.Addresses()

	firmware, err := e.firmware(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionLost, err)
	}

	logger.Info("export started",
		logger.KeyTotal, len(addrs),
		logger.KeyFirmware, firmware,
	)

	index := make(map[string]int, len(addrs))
	for i, a := range addrs {
		index[a] = i
	}

	sweepProgress := func(completed, total int, address string) {
		section := man.SectionFor(index[address])
		if progress != nil {
			progress(completed, total, section)
		}
		if e.Bus != nil {
			e.Bus.Publish(events.KindExportProgress, events.Progress{
				Completed: completed,
				Total:     total,
				Section:   section,
			})
		}
	}

	results, sweepErr := e.Session.Sweep(ctx, addrs, e.Policy, sweepProgress)

	header := Header{
		Firmware:   firmware,
		Name:       meta.Name,
		Note:       meta.Note,
		SafeMask:   meta.SafeMask,
		HasAliases: meta.HasAliases,
	}

	records := make([]Record, 0, len(results))
	errorCount := 0
	for _, r := range results {
		if r.Missing {
			// The slot stays in the file so the address set remains
			// complete; it just carries no value.
			errorCount++
			records = append(records, Record{Address: r.Address})
			continue
		}
		records = append(records, Record{Address: r.Address, Args: r.Args})
	}

	res := &ExportResult{
		ParameterCount: len(records),
		ErrorCount:     errorCount,
		Duration:       time.Since(start),
		Bytes:          Write(header, records),
	}

	if sweepErr != nil {
		if errors.Is(sweepErr, session.ErrTransportClosed) {
			sweepErr = fmt.Errorf("%w: %v", ErrSessionLost, sweepErr)
		}
		logger.Warn("export aborted",
			logger.KeyCompleted, len(records),
			logger.KeyTotal, len(addrs),
			logger.KeyError, sweepErr.Error(),
		)
		return res, sweepErr
	}

	logger.Info("export finished",
		logger.KeyTotal, res.ParameterCount,
		"missing", res.ErrorCount,
		logger.KeyDurationMs, res.Duration.Milliseconds(),
	)
	return res, nil
}

// firmware resolves the console firmware for the file header, preferring the
// cached identity and falling back to a fresh probe.
func (e *Exporter) firmware(ctx context.Context) (string, error) {
	if info, ok := e.Session.Identity(); ok {
		return info.Firmware, nil
	}
	args, err := e.Session.Request(ctx, "/xinfo", nil, 2*time.Second)
	if err != nil {
		return "", err
	}
	if len(args) < 4 || args[3].Kind != osc.KindString {
		return "", fmt.Errorf("unexpected /xinfo reply shape")
	}
	return args[3].Str, nil
}
