package frontend

import (
	"log"
	"time"
)

// LogCollector implements dispatch.Collector by writing one log line
// per dispatch, in the manner of the teacher framework's Logging
// middleware — a zero-dependency default for deployments that don't
// wire a real metrics backend.
type LogCollector struct{}

func (LogCollector) DispatchProcessed(path string, duration time.Duration, err error) {
	if err != nil {
		log.Printf("[frontend] metrics path=%s elapsed=%s err=%v", path, duration, err)
		return
	}
	log.Printf("[frontend] metrics path=%s elapsed=%s ok", path, duration)
}
