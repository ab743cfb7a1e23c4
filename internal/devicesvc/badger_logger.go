package devicesvc

import (
	"fmt"

	"github.com/dgraph-io/badger"
	"go.uber.org/zap"
)

// OpenDB opens the profile store at path with badger logging routed to log.
func OpenDB(path string, log *zap.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = badgerLogger{l: log}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return db, nil
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}
