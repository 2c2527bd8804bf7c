package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecore/pkg/config"
)

// configureLogger builds the logger from the config and --log-level, with the
// flag taking precedence. Without either the tool stays quiet.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logger := cfg.NewLogger()

	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		if path, _ := cmd.Flags().GetString("config"); path == "" {
			logger.SetLevel(logrus.PanicLevel)
		}
		return logger, nil
	}

	switch level {
	case "none":
		logger.SetLevel(logrus.PanicLevel)
	case "verbose":
		logger.SetLevel(logrus.TraceLevel)
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		return nil, fmt.Errorf("invalid log level: %s (must be none, verbose, debug, info, warning, or error)", level)
	}
	return logger, nil
}
