// Package logger wraps zap for the updater binaries:
//   - a global sugared logger with a console encoder,
//   - an optional rotating log file for detached processes,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - leveled convenience functions (Infof, ErrorKV, etc.).
//
// Every service takes a context and logs through the logger stored in it, so
// an update attempt id added once shows up on every line of that attempt.
package logger
