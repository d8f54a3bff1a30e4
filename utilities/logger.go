package utilities

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// facade reports the caller of the Log* helpers, not the helper itself.
var facade = withFacadeCaller(base)

// InitLogger configures the process logger. env "local" switches to a
// human-readable console writer; every other env logs JSON to stdout.
func InitLogger(env, level string) {
	zerolog.TimestampFieldName = "timestamp"
	zerolog.SetGlobalLevel(ParseLevel(level))

	w := io.Writer(os.Stdout)
	if env == EnvLocal {
		consoleWriter := zerolog.NewConsoleWriter()
		consoleWriter.TimeFormat = time.DateTime
		consoleWriter.Out = os.Stdout
		w = consoleWriter
	}

	base = zerolog.New(w).
		With().
		Timestamp().
		Int("pid", os.Getpid()).
		Str("env", env).
		Logger()
	facade = withFacadeCaller(base)
}

// SetOutput points the process logger at w. Tests use it to silence or
// capture output.
func SetOutput(w io.Writer) {
	base = base.Output(w)
	facade = withFacadeCaller(base)
}

func withFacadeCaller(l zerolog.Logger) zerolog.Logger {
	return l.With().CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 1).Logger()
}

// ParseLevel maps DEBUG/INFO/WARN/ERROR (any case) to a zerolog level,
// defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns a child logger tagged with the component name.
func Logger(component string) zerolog.Logger {
	return base.With().Caller().Str("component", component).Logger()
}

// LogRequest logs one served HTTP request.
func LogRequest(method, path, remoteAddr string, status int, duration time.Duration) {
	facade.Info().
		Str("method", method).
		Str("path", path).
		Str("remote_addr", remoteAddr).
		Int("status", status).
		Dur("duration", duration).
		Msg("http request")
}

// LogError logs err with a short description of what failed.
func LogError(err error, context string) {
	facade.Error().Err(err).Msg(context)
}

func LogDebug(format string, v ...interface{}) {
	facade.Debug().Msg(fmt.Sprintf(format, v...))
}

func LogInfo(format string, v ...interface{}) {
	facade.Info().Msg(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...interface{}) {
	facade.Warn().Msg(fmt.Sprintf(format, v...))
}
