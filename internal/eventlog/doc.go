// Package eventlog implements an append-only, line-oriented record log.
//
// Each record is one JSON object terminated by '\n'. Lines are independent:
// a torn or corrupt line is skipped on load without affecting the rest of
// the file. The log is the durable side of the tracking store; the
// in-memory views are rebuilt from it on startup.
package eventlog
