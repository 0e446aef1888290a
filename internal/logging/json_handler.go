package logging

import (
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
)

// jsonTimeFormat keeps millisecond precision so lines from one session sort
// correctly when shipped to a log store.
const jsonTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var jsonKeys = map[string]string{
	slog.TimeKey:    "ts",
	slog.LevelKey:   "level",
	slog.MessageKey: "msg",
	slog.SourceKey:  "caller",
}

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: replaceJSONAttr,
	})
}

func replaceJSONAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	renamed, builtin := jsonKeys[attr.Key]
	if !builtin {
		// Empty strings carry no information in a JSON line.
		if attr.Value.Kind() == slog.KindString && attr.Value.String() == "" {
			return slog.Attr{}
		}
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		if attr.Value.Kind() == slog.KindTime {
			attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(jsonTimeFormat))
		}
	case slog.LevelKey:
		attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			attr.Value = slog.StringValue(shortCaller(src.File, src.Line))
		}
	}
	attr.Key = renamed
	return attr
}

// shortCaller renders "pkg/file.go:line".
func shortCaller(file string, line int) string {
	dir := filepath.Base(filepath.Dir(file))
	return dir + "/" + filepath.Base(file) + ":" + strconv.Itoa(line)
}

