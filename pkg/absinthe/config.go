package absinthe

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ConnectParams supplies the query-string parameters merged into the
// WebSocket URI on every (re)connect attempt. It accepts one of:
//
//   - map[string]interface{}: a literal, reused verbatim on every attempt.
//   - func() (map[string]interface{}, error): re-evaluated on every attempt.
//   - func(reconnectCount int) (map[string]interface{}, error): same, but
//     receives the number of reconnects so far (0 on the first attempt).
//
// Any other shape is a ConfigurationInvalid error from Validate.
type ConnectParams = interface{}

// Config holds the configuration for a Session.
type Config struct {
	// URI is the WebSocket endpoint, e.g. "wss://host/socket/websocket".
	URI string

	// Headers are attached to the upgrade request verbatim.
	Headers http.Header

	// ConnectParams are merged into the query string of the WebSocket URI.
	// See the ConnectParams type doc for accepted shapes.
	ConnectParams ConnectParams

	// ReceiveTimeout is the default timeout for sync pushes. Zero uses the
	// package default of 15s.
	ReceiveTimeout time.Duration

	// Backoff configures reconnect backoff. Zero value uses DefaultBackoffConfig.
	Backoff BackoffConfig

	// Logger receives structured log records. Defaults to a no-op logger.
	Logger *zap.Logger

	// LogFunc, if set, is called with every log record Logger would have
	// received — an escape hatch for callers who don't want a zap
	// dependency in their own code, mirroring the teacher SDK's WithLog.
	// It fires even if Logger is left nil.
	LogFunc func(args ...interface{})
}

// DefaultReceiveTimeout is used when Config.ReceiveTimeout is zero.
const DefaultReceiveTimeout = 15 * time.Second

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReceiveTimeout: DefaultReceiveTimeout,
		Backoff:        DefaultBackoffConfig(),
	}
}

// Validate checks the static parts of the configuration. It does not
// evaluate a ConnectParams producer — that happens on each connect attempt,
// since its whole point is to be re-evaluated.
func (c *Config) Validate() error {
	if c.URI == "" {
		return WrapError("Config.Validate", ErrConfigurationInvalid, "URI is required")
	}
	switch c.ConnectParams.(type) {
	case nil, map[string]interface{},
		func() (map[string]interface{}, error),
		func(int) (map[string]interface{}, error):
		// accepted shapes
	default:
		return WrapError("Config.Validate", ErrConfigurationInvalid,
			fmt.Sprintf("unsupported ConnectParams type %T", c.ConnectParams))
	}
	if c.ReceiveTimeout < 0 {
		return WrapError("Config.Validate", ErrConfigurationInvalid, "ReceiveTimeout cannot be negative")
	}
	return nil
}

// resolveConnectParams evaluates Config.ConnectParams for the given
// reconnect attempt counter (0 on the first attempt).
func resolveConnectParams(params ConnectParams, reconnectCount int) (map[string]interface{}, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return p, nil
	case func() (map[string]interface{}, error):
		return p()
	case func(int) (map[string]interface{}, error):
		return p(reconnectCount)
	default:
		return nil, WrapError("resolveConnectParams", ErrConfigurationInvalid,
			fmt.Sprintf("unsupported ConnectParams type %T", params))
	}
}

// logger returns the Logger to use, wrapped so every record it accepts is
// also replayed through LogFunc when set (see logFuncCore).
func (c *Config) logger() *zap.Logger {
	var base *zap.Logger
	switch {
	case c.Logger != nil:
		base = c.Logger
	case c.LogFunc != nil:
		base = zap.New(discardCore())
	default:
		return zap.NewNop()
	}

	if c.LogFunc == nil {
		return base
	}
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &logFuncCore{Core: core, logFunc: c.LogFunc}
	}))
}

func (c *Config) receiveTimeout() time.Duration {
	if c.ReceiveTimeout > 0 {
		return c.ReceiveTimeout
	}
	return DefaultReceiveTimeout
}
