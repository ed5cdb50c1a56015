package gate

import (
	"errors"
	"log/slog"
	"time"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/audit/sink"
	"mercator-hq/tollgate/pkg/config"
)

// OpenSink opens the audit trail described by cfg: the JSON Lines file,
// mirrored into SQLite when enabled. The file is the source of truth and
// seals each entry; the SQLite index stores the sealed copy.
func OpenSink(cfg config.AuditConfig, now func() time.Time, logger *slog.Logger) (audit.Sink, error) {
	file, err := sink.NewFileSink(cfg.Path, sink.WithClock(now), sink.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if !cfg.SQLite.Enabled {
		return file, nil
	}

	db, err := sink.NewSQLiteSink(cfg.SQLite, logger)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}
	return sink.NewMultiSink(file, db), nil
}
