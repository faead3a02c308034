// Package logx provides a small structured logging facade over zerolog.
//
// Components receive a Logger value; the Service owns the sinks (console,
// file) and can swap them at runtime when the config reloads, without the
// holders of derived Loggers noticing.
package logx
