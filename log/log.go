// Package log provides the console logging construction shared by the
// syncps engine, face adapters and the syncpsd command.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a console zap.Logger named for a subsystem ("engine", "face",
// "collection", ...), at the given level. Callers that need no logging at
// all should use zap.NewNop() directly instead.
func New(name string, level zapcore.Level) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(zapcore.AddSync(os.Stdout)),
		zap.NewAtomicLevelAt(level),
	)
	return zap.New(core).Named(name)
}
