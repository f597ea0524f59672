//go:build !sqlite
// +build !sqlite

package scheduler

import (
	"errors"

	logx "labd/pkg/logx"
)

func openSQLiteArchive(cfg ArchiveConfig, log logx.Logger) (Archive, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite archive not built in (rebuild with -tags sqlite)")
}
