package hostconfig

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/core"
	"github.com/corticerasf/dice/pkg/pipeline"
	"github.com/corticerasf/dice/pkg/scheduler"
)

type fixture struct {
	server *core.Server
	engine *core.Engine
	host   *core.Host
	plugin *Plugin
	conf   string
	apps   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sched := scheduler.New()
	t.Cleanup(sched.Close)

	base := t.TempDir()
	f := &fixture{
		server: core.NewServer("dice", core.WithBaseDir(base)),
		engine: core.NewEngine("main", container.WithScheduler(sched), container.WithBackgroundDelay(time.Hour)),
		host:   core.NewHost("localhost"),
		conf:   filepath.Join(base, "conf", "main", "localhost"),
		apps:   filepath.Join(base, core.DefaultAppBase),
	}
	f.plugin = New(f.host, WithContainerOptions(container.WithScheduler(sched)))
	f.host.AddListener(f.plugin)

	svc := core.NewService("main")
	if err := f.engine.AddChild(f.host); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := svc.SetContainer(f.engine); err != nil {
		t.Fatalf("SetContainer: %v", err)
	}
	if err := f.server.AddService(svc); err != nil {
		t.Fatalf("AddService: %v", err)
	}
	mkdir(t, f.conf)
	return f
}

func (f *fixture) app(t *testing.T, dir, index string) {
	t.Helper()
	mkdir(t, filepath.Join(f.apps, dir))
	writeFile(t, filepath.Join(f.apps, dir, "index.html"), index)
}

func (f *fixture) descriptor(t *testing.T, name, body string) {
	t.Helper()
	writeFile(t, filepath.Join(f.conf, name), body)
}

func (f *fixture) get(t *testing.T, path string) string {
	t.Helper()
	ex := pipeline.NewExchange("t", "localhost", path, nil)
	if err := f.engine.Pipeline().Invoke(context.Background(), ex); err != nil {
		t.Fatalf("Invoke(%q): %v", path, err)
	}
	b, _ := ex.Response.([]byte)
	return string(b)
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		_ = f.server.Stop()
		_ = f.server.Destroy()
	})
}

func mkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestContextPath(t *testing.T) {
	tests := []struct {
		file string
		path string
	}{
		{"ROOT.toml", ""},
		{"docs.toml", "/docs"},
		{"a#b.toml", "/a/b"},
	}
	for _, tt := range tests {
		if got := ContextPath(tt.file); got != tt.path {
			t.Errorf("ContextPath(%q) = %q, want %q", tt.file, got, tt.path)
		}
		if got := DescriptorName(tt.path); got != tt.file {
			t.Errorf("DescriptorName(%q) = %q, want %q", tt.path, got, tt.file)
		}
	}
}

func TestDeployOnStart(t *testing.T) {
	f := newFixture(t)
	f.app(t, "root", "root page")
	f.app(t, "docs", "docs page")
	f.descriptor(t, "ROOT.toml", `doc_base = "root"`)
	f.descriptor(t, "docs.toml", `doc_base = "docs"`)

	f.start(t)

	if got, want := f.plugin.Deployed(), []string{"", "/docs"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Deployed() = %v, want %v", got, want)
	}
	if got := f.get(t, "/docs"); got != "docs page" {
		t.Errorf("GET /docs = %q", got)
	}
	if got := f.get(t, "/"); got != "root page" {
		t.Errorf("GET / = %q", got)
	}
}

func TestUndeployOnRemovedDescriptor(t *testing.T) {
	f := newFixture(t)
	f.app(t, "docs", "docs page")
	f.descriptor(t, "docs.toml", `doc_base = "docs"`)
	f.start(t)

	if f.host.FindChild("/docs") == nil {
		t.Fatal("context not deployed")
	}
	if err := os.Remove(filepath.Join(f.conf, "docs.toml")); err != nil {
		t.Fatal(err)
	}
	f.plugin.Check()

	if f.host.FindChild("/docs") != nil {
		t.Error("context still deployed after descriptor removal")
	}
	if len(f.plugin.Deployed()) != 0 {
		t.Errorf("Deployed() = %v, want empty", f.plugin.Deployed())
	}
}

func TestRedeployOnChange(t *testing.T) {
	f := newFixture(t)
	f.app(t, "v1", "one")
	f.app(t, "v2", "two")
	f.descriptor(t, "app.toml", `doc_base = "v1"`)
	f.start(t)

	first := f.host.FindChild("/app")
	if got := f.get(t, "/app"); got != "one" {
		t.Fatalf("GET /app = %q", got)
	}

	f.descriptor(t, "app.toml", `doc_base = "v2"`)
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(filepath.Join(f.conf, "app.toml"), later, later); err != nil {
		t.Fatal(err)
	}
	f.plugin.Check()

	if f.host.FindChild("/app") == first {
		t.Fatal("context was not replaced")
	}
	if got := f.get(t, "/app"); got != "two" {
		t.Errorf("GET /app = %q, want two", got)
	}
}

func TestWatcherTriggersPeriodicDeploy(t *testing.T) {
	f := newFixture(t)
	f.app(t, "late", "late page")
	f.start(t)

	if !f.plugin.watching.Load() {
		t.Skip("fsnotify watcher unavailable")
	}
	f.descriptor(t, "late.toml", `doc_base = "late"`)

	deadline := time.Now().Add(5 * time.Second)
	for !f.plugin.dirty.Load() {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not mark descriptors dirty")
		}
		time.Sleep(10 * time.Millisecond)
	}
	f.host.BackgroundProcess()

	if got := f.get(t, "/late"); got != "late page" {
		t.Errorf("GET /late = %q", got)
	}
}

func TestPeriodicRespectsHotDeployment(t *testing.T) {
	f := newFixture(t)
	f.app(t, "late", "late page")
	f.host.SetHotDeployment(false)
	f.start(t)

	f.descriptor(t, "late.toml", `doc_base = "late"`)
	f.plugin.dirty.Store(true)
	f.host.BackgroundProcess()

	if f.host.FindChild("/late") != nil {
		t.Error("deployed with hot deployment disabled")
	}
}

func TestDeployIgnoreAndInvalidDescriptors(t *testing.T) {
	f := newFixture(t)
	f.app(t, "skip", "skipped")
	if err := f.host.SetDeployIgnore(`^skip`); err != nil {
		t.Fatal(err)
	}
	f.descriptor(t, "skip.toml", `doc_base = "skip"`)
	f.descriptor(t, "broken.toml", `type = "standard"`)
	f.descriptor(t, "notes.txt", `doc_base = "skip"`)
	f.start(t)

	if got := f.plugin.Deployed(); len(got) != 0 {
		t.Errorf("Deployed() = %v, want empty", got)
	}
	if len(f.host.FindChildren()) != 0 {
		t.Errorf("host has %d children, want 0", len(f.host.FindChildren()))
	}
}

func TestStaticContextWins(t *testing.T) {
	f := newFixture(t)
	static := core.NewContext("/docs")
	static.SetHandler(core.HandlerFunc(func(ctx context.Context, ex *pipeline.Exchange) error {
		ex.Response = []byte("static")
		return nil
	}))
	if err := f.host.AddChild(static); err != nil {
		t.Fatal(err)
	}
	f.app(t, "docs", "docs page")
	f.descriptor(t, "docs.toml", `doc_base = "docs"`)
	f.start(t)

	if f.host.FindChild("/docs") != static {
		t.Fatal("static context replaced")
	}
	if got := f.get(t, "/docs"); got != "static" {
		t.Errorf("GET /docs = %q", got)
	}
}

func TestUndeployOnStop(t *testing.T) {
	f := newFixture(t)
	f.app(t, "docs", "docs page")
	f.descriptor(t, "docs.toml", `doc_base = "docs"`)
	f.start(t)

	if err := f.server.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.host.FindChild("/docs") != nil {
		t.Error("context survived host stop")
	}
	if f.plugin.watching.Load() {
		t.Error("watcher still running after stop")
	}
}
