package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevels = map[string]logrus.Level{
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
}

// configureLogger builds the command's logger from its flags.
// --log-level wins over the verbose flag; with neither set the logger
// stays at panic level so protocol output is not interleaved with log
// lines.
func configureLogger(cmd *cobra.Command, verboseFlagName string) (*logrus.Logger, error) {
	level := logrus.PanicLevel

	if name, _ := cmd.Flags().GetString("log-level"); name != "" {
		parsed, ok := logLevels[name]
		if !ok {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", name)
		}
		level = parsed
	} else if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
		level = logrus.DebugLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
