package serverinfo

import (
	"runtime"
	"sync"
	"testing"

	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
)

type entry struct {
	level  string
	msg    string
	fields map[string]interface{}
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []entry
}

func (r *recordingLogger) add(level, msg string, fields []log.Field) {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry{level: level, msg: msg, fields: m})
	r.mu.Unlock()
}

func (r *recordingLogger) Debug(msg string, fields ...log.Field) { r.add("debug", msg, fields) }
func (r *recordingLogger) Info(msg string, fields ...log.Field)  { r.add("info", msg, fields) }
func (r *recordingLogger) Warn(msg string, fields ...log.Field)  { r.add("warn", msg, fields) }
func (r *recordingLogger) Error(msg string, fields ...log.Field) { r.add("error", msg, fields) }
func (r *recordingLogger) With(fields ...log.Field) log.Logger   { return r }

func TestReportOnBeforeInit(t *testing.T) {
	logger := &recordingLogger{}
	p := New(Config{Version: "1.2.3", BaseDir: "/srv/dice"}, logger)

	var r lifecycle.Runner
	r.AddListener(p)
	if err := r.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if len(logger.entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(logger.entries))
	}
	e := logger.entries[0]
	if e.msg != "server environment" {
		t.Errorf("msg = %q", e.msg)
	}
	if e.fields["os"] != runtime.GOOS {
		t.Errorf("os = %v, want %s", e.fields["os"], runtime.GOOS)
	}
	if e.fields["version"] != "1.2.3" {
		t.Errorf("version = %v", e.fields["version"])
	}
	if e.fields["base_dir"] != "/srv/dice" {
		t.Errorf("base_dir = %v", e.fields["base_dir"])
	}
	if _, ok := e.fields["home_dir"]; ok {
		t.Error("home_dir reported although unset")
	}
}

func TestCheckLoadWarnsOnTransitions(t *testing.T) {
	logger := &recordingLogger{}
	p := New(DefaultConfig(), logger)
	count := 1
	p.numGoroutine = func() int { return count }

	if p.CheckLoad() {
		t.Fatal("idle process reported busy")
	}
	count = runtime.NumCPU()*10 + 1
	p.LifecycleEvent(lifecycle.Event{Type: lifecycle.EventPeriodic})
	p.LifecycleEvent(lifecycle.Event{Type: lifecycle.EventPeriodic})
	count = 1
	p.CheckLoad()

	var levels []string
	for _, e := range logger.entries {
		levels = append(levels, e.level)
	}
	if len(levels) != 2 || levels[0] != "warn" || levels[1] != "info" {
		t.Errorf("levels = %v, want [warn info]", levels)
	}
}
