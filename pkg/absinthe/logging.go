package absinthe

import (
	"io"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logFuncCore tees every record a wrapped zapcore.Core receives through a
// plain func(args ...interface{}), for callers who don't want a zap
// dependency of their own (Config.LogFunc, mirroring the teacher SDK's
// WithLog option). Check is overridden because the embedded Core's
// default would register itself, not this wrapper, as the core that gets
// Write called on it.
type logFuncCore struct {
	zapcore.Core
	logFunc func(args ...interface{})
}

func (c *logFuncCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *logFuncCore) With(fields []zapcore.Field) zapcore.Core {
	return &logFuncCore{Core: c.Core.With(fields), logFunc: c.logFunc}
}

func (c *logFuncCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if c.logFunc != nil {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range fields {
			f.AddTo(enc)
		}
		c.logFunc(ent.Time.Format(time.RFC3339), ent.Level.String(), ent.Message, enc.Fields)
	}
	return c.Core.Write(ent, fields)
}

// discardCore is the base core used when LogFunc is set but no zap Logger
// was supplied: it has no sink of its own, but unlike zap.NewNop()'s core
// it reports every level enabled, so logFuncCore still sees every record.
func discardCore() zapcore.Core {
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zapcore.NewCore(enc, zapcore.AddSync(io.Discard), zapcore.DebugLevel)
}
