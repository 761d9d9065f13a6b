package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggingCmd(logLevel string, verbose bool) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("log-level", logLevel, "")
	cmd.Flags().BoolP("verbose", "v", verbose, "")
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		verbose  bool
		want     logrus.Level
		wantErr  bool
	}{
		{name: "silent by default", want: logrus.PanicLevel},
		{name: "verbose enables debug", verbose: true, want: logrus.DebugLevel},
		{name: "explicit level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "log-level wins over verbose", logLevel: "error", verbose: true, want: logrus.ErrorLevel},
		{name: "unknown level rejected", logLevel: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(newLoggingCmd(tt.logLevel, tt.verbose), "verbose")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid log level")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}
