package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
)

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := newRecordingWatermillLogger()
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "dispatch"})
	logger.Info("info", nil)
	logger.Trace("trace", LogFields{"trace": true})
	logger.Error("oops", errors.New("boom"), LogFields{"failed": true})

	child := logger.With(LogFields{"child": "yes"})
	child.Info("child_info", nil)

	if len(base.entries) != 6 {
		t.Fatalf("expected 6 log entries, got %d", len(base.entries))
	}
	if base.entries[0].level != "debug" || base.entries[0].fields["component"] != "dispatch" {
		t.Fatalf("unexpected first entry: %#v", base.entries[0])
	}
	if base.entries[3].err == nil {
		t.Fatal("expected error to be forwarded")
	}
	if base.entries[4].level != "with" || base.entries[4].fields["child"] != "yes" {
		t.Fatalf("expected With to propagate fields, got %#v", base.entries[4])
	}
}

func TestWatermillServiceLoggerWithoutFieldsReturnsSelf(t *testing.T) {
	logger := NewWatermillServiceLogger(newRecordingWatermillLogger())
	if logger.With(nil) != logger {
		t.Fatal("expected With(nil) to return the same logger")
	}
}

func TestConstructorsPanicOnNil(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"watermill", func() { NewWatermillServiceLogger(nil) }},
		{"slog", func() { NewSlogServiceLogger(nil) }},
		{"adapter", func() { NewWatermillAdapter(nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Fatal("expected panic")
				}
			}()
			tt.fn()
		})
	}
}

func TestWatermillAdapterDelegates(t *testing.T) {
	base := &recordingServiceLogger{}
	adapter := NewWatermillAdapter(base)

	adapter.Debug("dbg", watermill.LogFields{"k": "v"})
	adapter.Info("info", nil)
	adapter.Trace("trace", nil)
	adapter.Error("err", errors.New("boom"), nil)

	child := adapter.With(watermill.LogFields{"child": "yes"})
	child.Info("child_info", nil)

	if len(base.entries) != 4 {
		t.Fatalf("expected 4 delegated entries on base, got %d", len(base.entries))
	}
	if base.entries[0].fields["k"] != "v" {
		t.Fatalf("expected fields to be converted, got %#v", base.entries[0].fields)
	}
	if len(base.children) != 1 || len(base.children[0].entries) != 1 {
		t.Fatal("expected child logger to record entries")
	}
	if base.children[0].fields["child"] != "yes" {
		t.Fatal("expected child fields to be preserved")
	}
}

func TestNopLoggerAndOrNop(t *testing.T) {
	logger := NopLogger()
	logger.Info("ignored", LogFields{"k": "v"})
	logger.With(LogFields{"k": "v"}).Error("ignored", errors.New("boom"), nil)

	if OrNop(nil) == nil {
		t.Fatal("expected OrNop to return a logger")
	}
	base := &recordingServiceLogger{}
	if OrNop(base) != ServiceLogger(base) {
		t.Fatal("expected OrNop to keep a supplied logger")
	}
}

func TestNewSlogServiceLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogServiceLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	logger.Info("hello", LogFields{"operation_id": "op-1"})

	if out := buf.String(); !strings.Contains(out, "hello") || !strings.Contains(out, "operation_id=op-1") {
		t.Fatalf("unexpected slog output %q", out)
	}
}

func TestWatermillFieldConversions(t *testing.T) {
	if toWatermillFields(nil) != nil {
		t.Fatal("expected nil conversion to return nil")
	}
	if fromWatermillFields(nil) != nil {
		t.Fatal("expected nil conversion to return nil")
	}
	if lf := fromWatermillFields(toWatermillFields(LogFields{"a": 1})); lf["a"].(int) != 1 {
		t.Fatalf("unexpected log fields: %#v", lf)
	}
}

type watermillEntry struct {
	level  string
	fields watermill.LogFields
	err    error
}

type recordingWatermillLogger struct {
	entries []watermillEntry
	sink    *[]watermillEntry
}

func newRecordingWatermillLogger() *recordingWatermillLogger {
	logger := &recordingWatermillLogger{}
	logger.sink = &logger.entries
	return logger
}

func (r *recordingWatermillLogger) record(entry watermillEntry) {
	*r.sink = append(*r.sink, entry)
}

func (r *recordingWatermillLogger) Error(_ string, err error, fields watermill.LogFields) {
	r.record(watermillEntry{level: "error", fields: fields, err: err})
}

func (r *recordingWatermillLogger) Info(_ string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "info", fields: fields})
}

func (r *recordingWatermillLogger) Debug(_ string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "debug", fields: fields})
}

func (r *recordingWatermillLogger) Trace(_ string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "trace", fields: fields})
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	child := &recordingWatermillLogger{sink: r.sink}
	child.record(watermillEntry{level: "with", fields: fields})
	return child
}

type loggedEntry struct {
	level  string
	msg    string
	fields LogFields
	err    error
}

type recordingServiceLogger struct {
	fields   LogFields
	entries  []loggedEntry
	children []*recordingServiceLogger
}

func (r *recordingServiceLogger) With(fields LogFields) ServiceLogger {
	child := &recordingServiceLogger{fields: fields}
	r.children = append(r.children, child)
	return child
}

func (r *recordingServiceLogger) Debug(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "debug", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Info(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "info", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Error(msg string, err error, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "error", msg: msg, fields: fields, err: err})
}

func (r *recordingServiceLogger) Trace(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "trace", msg: msg, fields: fields})
}
