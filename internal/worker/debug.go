package worker

import (
	"log"
	"os"
)

// MINDFULCHAT_WORKER_DEBUG=1 traces job assignment and worker retirement.
var debugDispatch = os.Getenv("MINDFULCHAT_WORKER_DEBUG") == "1"

func debugLog(format string, args ...any) {
	if !debugDispatch {
		return
	}
	log.Printf("dispatch: "+format, args...)
}
