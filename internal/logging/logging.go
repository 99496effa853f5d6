// Package logging provides component-prefixed loggers over the standard
// log package, matching the plain log.Printf style used throughout this
// codebase rather than pulling in a structured logging library.
package logging

import (
	"log"
	"os"
)

// For returns a logger that prefixes every line with the component name,
// e.g. logging.For("broadcast") -> "[broadcast] ".
func For(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}
