// Package logging provides leveled logging for photokeep.
//
// Log output goes through the standard library logger with a level
// prefix. The level is read once from the DEBUG and LOG_LEVEL
// environment variables and defaults to info.
package logging
