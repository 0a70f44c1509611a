// Package logx provides a small structured logging facade over zerolog.
//
// Components receive a Logger value (cheap to copy, safe zero value) and
// derive scoped loggers via With(). The Service owns the sinks and can
// re-apply level/output configuration at runtime without invalidating
// previously handed-out loggers.
package logx
