package main

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rampart/pkg/cli"
)

func main() {
	logger := setupLogger(os.Getenv("RAMPART_LOG_LEVEL"))

	if err := cli.NewRootCommand(os.Stdout, logger).Execute(os.Args[1:]); err != nil {
		if errors.Is(err, cli.ErrDenied) {
			os.Exit(2)
		}
		logger.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

// setupLogger writes text logs to stderr so stdout stays machine-readable
func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.WarnLevel
	}
	logger.SetLevel(lvl)
	return logger
}
