package worker

import (
	"os"
	"strings"

	"pepper/internal/logger"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("PEPPER_WORKER_DEBUG"), "1")

func debugLog(msg, key string) {
	if workerDebugEnabled {
		logger.Debug().Str("key", key).Msg("[dispatcher] " + msg)
	}
}
