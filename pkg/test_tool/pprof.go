package testtool

import (
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on http.DefaultServeMux

	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/logger"

	"go.uber.org/zap"
)

// StartPprof serve pprof on addr (e.g. 127.0.0.1:6060) outside production.
// An empty addr disables it.
//
//	go tool pprof http://localhost:6060/debug/pprof/goroutine
//	go tool pprof http://localhost:6060/debug/pprof/profile?seconds=30
func StartPprof(addr string) {
	if addr == "" {
		return
	}
	if config.IsProduction() {
		logger.Log.Info("Production environment detected, pprof is disabled.")
		return
	}

	go func() {
		logger.Log.Info("Starting pprof server", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Log.Warn("pprof server failed", zap.Error(err))
		}
	}()
}
