package cliconfig

import (
	"io"

	"github.com/corticerasf/dice/pkg/log"
)

// NewLogger builds the process logger for a validated Config.
func NewLogger(cfg Config, w io.Writer) (*log.ZerologAdapter, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.LogFormat == LogFormatJSON {
		return log.NewJSONAdapter(w, level), nil
	}
	return log.NewConsoleAdapter(w, level), nil
}
