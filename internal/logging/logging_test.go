package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// recorder keeps the messages of every record it handles.
type recorder struct {
	mu   *sync.Mutex
	msgs *[]string
}

func newRecorder() recorder {
	return recorder{mu: &sync.Mutex{}, msgs: new([]string)}
}

func (r recorder) Enabled(context.Context, slog.Level) bool { return true }

func (r recorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	*r.msgs = append(*r.msgs, rec.Message)
	r.mu.Unlock()
	return nil
}

func (r recorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r recorder) WithGroup(string) slog.Handler      { return r }

func (r recorder) got() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(*r.msgs, ",")
}

func TestDefault(t *testing.T) {
	if Default(nil) == nil {
		t.Fatal("Default(nil) returned nil")
	}
	if Default(nil).Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not be enabled")
	}
	l := slog.New(newRecorder())
	if Default(l) != l {
		t.Error("Default should return the given logger")
	}
}

func TestComponentLevels(t *testing.T) {
	rec := newRecorder()
	h := NewComponentFilterHandler(rec, slog.LevelWarn)
	h.SetLevel("resolver", slog.LevelDebug)
	h.SetLevel("lookup", slog.LevelError)

	base := slog.New(h)
	resolver := base.With("component", "resolver")
	lookup := base.With("component", "lookup")

	tests := []struct {
		name string
		log  func()
		want bool
	}{
		{"override lowers level", func() { resolver.Debug("r-debug") }, true},
		{"override raises level", func() { lookup.Warn("l-warn") }, false},
		{"override error passes", func() { lookup.Error("l-error") }, true},
		{"default drops info", func() { base.Info("b-info", "component", "query") }, false},
		{"default keeps warn", func() { base.Warn("b-warn", "component", "query") }, true},
		{"record attribute", func() { base.Debug("attr-debug", "component", "resolver") }, true},
		{"no component", func() { base.Info("anon-info") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := rec.got()
			tt.log()
			if logged := rec.got() != before; logged != tt.want {
				t.Errorf("logged = %v, want %v (records: %s)", logged, tt.want, rec.got())
			}
		})
	}
}

func TestLevelChangesReachDerivedLoggers(t *testing.T) {
	rec := newRecorder()
	h := NewComponentFilterHandler(rec, slog.LevelInfo)
	logger := slog.New(h).With("component", "scheduler").WithGroup("job")

	logger.Debug("first")
	h.SetLevel("scheduler", slog.LevelDebug)
	logger.Debug("second")
	h.ClearLevel("scheduler")
	logger.Debug("third")
	h.ClearLevel("never-set")

	if got := rec.got(); got != "second" {
		t.Errorf("records = %q, want only second", got)
	}
	if lvl := h.Level("scheduler"); lvl != slog.LevelInfo {
		t.Errorf("Level after clear = %v, want info", lvl)
	}
	if h.DefaultLevel() != slog.LevelInfo {
		t.Errorf("DefaultLevel = %v", h.DefaultLevel())
	}
}

func TestEnabledUsesLowestOverride(t *testing.T) {
	h := NewComponentFilterHandler(nil, slog.LevelWarn)
	ctx := context.Background()
	if h.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug enabled without overrides")
	}
	h.SetLevel("query", slog.LevelDebug)
	if !h.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug should be enabled once any component allows it")
	}
	scoped := h.WithAttrs([]slog.Attr{slog.String("component", "lookup")})
	if scoped.Enabled(ctx, slog.LevelInfo) {
		t.Error("scoped handler should use its component's level")
	}
	if err := scoped.Handle(ctx, slog.NewRecord(time.Time{}, slog.LevelError, "x", 0)); err != nil {
		t.Errorf("Handle with nil next: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{" Warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"", slog.LevelInfo, false},
		{"ERROR", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
			}
		})
	}
}

func TestNewHandler(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"kept"`},
		{"text", "msg=kept"},
		{"", "msg=kept"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			h, err := NewHandler(&buf, tt.format, slog.LevelWarn)
			if err != nil {
				t.Fatal(err)
			}
			logger := slog.New(h).With("component", "query")
			logger.Info("dropped")
			logger.Warn("kept")
			out := buf.String()
			if strings.Contains(out, "dropped") || !strings.Contains(out, tt.want) {
				t.Errorf("output = %s", out)
			}
		})
	}
	if _, err := NewHandler(&bytes.Buffer{}, "xml", slog.LevelInfo); err == nil {
		t.Error("unknown format should fail")
	}
}
