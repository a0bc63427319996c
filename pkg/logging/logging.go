package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

const mainPackage = "github.com/Slach/calendar-sync/"

// prettyWriter turns zerolog JSON events into one readable line per event.
// The component field, when present, is printed in front of the message.
type prettyWriter struct {
	Out io.Writer
}

func (w *prettyWriter) Write(p []byte) (int, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return w.Out.Write(p)
	}

	header := func(key string) string {
		var s string
		_ = json.Unmarshal(m[key], &s)
		delete(m, key)
		return s
	}
	ts, level, caller, component, message := header("time"), header("level"), header("caller"), header("component"), header("message")

	var out strings.Builder
	for _, part := range []string{ts, strings.ToUpper(level)} {
		if part != "" {
			out.WriteString(part)
			out.WriteByte(' ')
		}
	}
	if caller != "" {
		out.WriteString(caller)
		out.WriteString(" > ")
	}
	if component != "" {
		out.WriteString("[" + component + "] ")
	}
	out.WriteString(message)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.WriteByte(' ')
		out.WriteString(k)
		out.WriteByte('=')
		var s string
		if err := json.Unmarshal(m[k], &s); err == nil {
			// Multiline values such as stack traces go on their own lines.
			s = strings.TrimSuffix(s, "\n")
			if strings.Contains(s, "\n") {
				out.WriteString("\n" + s + "\n")
			} else {
				out.WriteString(s)
			}
			continue
		}
		var v any
		if err := json.Unmarshal(m[k], &v); err == nil {
			out.WriteString(fmt.Sprint(v))
			continue
		}
		out.Write(m[k])
	}
	out.WriteByte('\n')
	if _, err := w.Out.Write([]byte(out.String())); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func configureMarshalers() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	// Prefer the pkg/errors stack of the error, fall back to the logging call site.
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		if stackErr, ok := err.(interface{ StackTrace() errors.StackTrace }); ok {
			if st := stackErr.StackTrace(); len(st) > 0 {
				parts := strings.Split(fmt.Sprintf("%+v", st[0]), "\n\t")
				if len(parts) >= 2 {
					return fmt.Sprintf("%s > %s", strings.TrimPrefix(parts[0], mainPackage), strings.TrimPrefix(parts[1], mainPackage))
				}
			}
		}
		pcs := make([]uintptr, 10)
		n := runtime.Callers(3, pcs)
		var b strings.Builder
		for _, pc := range pcs[:n] {
			fn := runtime.FuncForPC(pc - 1)
			if fn == nil {
				continue
			}
			file, line := fn.FileLine(pc - 1)
			_, _ = fmt.Fprintf(&b, "%s:%d > %s\n", strings.TrimPrefix(file, mainPackage), line, strings.TrimPrefix(fn.Name(), mainPackage))
		}
		if b.Len() == 0 {
			return nil
		}
		return b.String()
	}
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return strings.TrimPrefix(file, mainPackage) + ":" + strconv.Itoa(line)
	}
}

// InitConsole logs to stderr, coloured only when stderr is a terminal.
func InitConsole(level string) {
	configureMarshalers()
	zerolog.SetGlobalLevel(ParseLevel(level))
	writer := zerolog.ConsoleWriter{
		Out:     os.Stderr,
		NoColor: !term.IsTerminal(int(os.Stderr.Fd())),
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Caller().Logger()
}

// fatalStackHook adds stack traces to Fatal level logs
type fatalStackHook struct{}

func (h fatalStackHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level == zerolog.FatalLevel {
		e.Stack()
	}
}

// DefaultLogPath is used when no log file is configured.
func DefaultLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(home, ".calendar-sync", "calendar-sync.log"), nil
}

// InitLogFile sends the global logger to a pretty printed log file.
func InitLogFile(logPath, level, version string) (io.Closer, error) {
	if logPath == "" {
		var err error
		if logPath, err = DefaultLogPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open log file")
	}

	configureMarshalers()
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = zerolog.New(zerolog.SyncWriter(&prettyWriter{Out: logFile})).
		Hook(fatalStackHook{}).
		With().
		Timestamp().
		Caller().
		Str("version", version).
		Logger()
	return logFile, nil
}

// Component returns a child of the global logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
