// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package redisq

import (
	"os"

	kitlog "github.com/go-kit/kit/log"
)

// Logger is the structured logging handle used throughout the queue. It is
// an alias for go-kit's Logger so that callers already using go-kit (as
// the reference UI tooling this package grew out of does) can pass their
// existing logger straight through.
type Logger = kitlog.Logger

// NewStdLogger returns a logfmt Logger over stderr with a timestamp and
// caller attached, the same composition the UI entrypoint builds by hand
// around log.NewJSONLogger/log.NewContext.
func NewStdLogger() Logger {
	l := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	return kitlog.With(l, "ts", kitlog.DefaultTimestampUTC, "caller", kitlog.DefaultCaller)
}

// logDebug, logWarn, logError, and logInfo tag every record with a level
// key, mirroring the level conventions the SLF4J-backed original uses
// (LOG.debug/.warn/.error/.info) without importing a level sub-package.
func logDebug(l Logger, keyvals ...interface{}) {
	_ = l.Log(append([]interface{}{"level", "debug"}, keyvals...)...)
}

func logInfo(l Logger, keyvals ...interface{}) {
	_ = l.Log(append([]interface{}{"level", "info"}, keyvals...)...)
}

func logWarn(l Logger, keyvals ...interface{}) {
	_ = l.Log(append([]interface{}{"level", "warn"}, keyvals...)...)
}

func logError(l Logger, keyvals ...interface{}) {
	_ = l.Log(append([]interface{}{"level", "error"}, keyvals...)...)
}
