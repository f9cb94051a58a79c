// Package logger wraps zap for the patcher binaries:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level parsing for the --log-level flag,
//   - SinkFor, which turns the context logger into a progress sink.
//
// Services take a context and pull the logger out of it, so a patch run
// logs under its own name and run ID without passing loggers around.
package logger
