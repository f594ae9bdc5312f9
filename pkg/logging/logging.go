// Package logging sets up the global zerolog logger for rover binaries.
// Library packages just log via github.com/rs/zerolog/log and inherit it.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Init(app string) zerolog.Logger {
	return InitWriter(app, os.Stdout)
}

func InitWriter(app string, w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// SetLevel parses a level name like "debug" and applies it globally. Unknown
// names leave the level alone and return the error.
func SetLevel(name string) error {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
