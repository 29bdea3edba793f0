package core

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/pipeline"
	"github.com/corticerasf/dice/pkg/scheduler"
)

type tree struct {
	server    *Server
	service   *Service
	engine    *Engine
	host      *Host
	root      *Context
	app       *Context
	connector *LocalConnector
}

func echo(name string) Handler {
	return HandlerFunc(func(ctx context.Context, ex *pipeline.Exchange) error {
		ex.Response = name
		return nil
	})
}

func newTree(t *testing.T) *tree {
	t.Helper()
	sched := scheduler.New()
	t.Cleanup(sched.Close)

	tr := &tree{
		server:    NewServer("dice", WithBaseDir(t.TempDir())),
		service:   NewService("main"),
		engine:    NewEngine("main", container.WithScheduler(sched)),
		host:      NewHost("Localhost"),
		root:      NewContext("/"),
		app:       NewContext("/app"),
		connector: NewLocalConnector("local"),
	}
	tr.root.SetHandler(echo("root"))
	tr.app.SetHandler(echo("app"))
	tr.engine.SetDefaultHost("LOCALHOST")

	require.NoError(t, tr.host.AddChild(tr.root))
	require.NoError(t, tr.host.AddChild(tr.app))
	require.NoError(t, tr.engine.AddChild(tr.host))
	require.NoError(t, tr.service.SetContainer(tr.engine))
	require.NoError(t, tr.service.AddConnector(tr.connector))
	require.NoError(t, tr.server.AddService(tr.service))
	return tr
}

func TestServer_StartRoutesWork(t *testing.T) {
	tr := newTree(t)
	require.NoError(t, tr.server.Start())
	t.Cleanup(func() { _ = tr.server.Stop() })

	for _, c := range []lifecycle.Component{tr.service, tr.engine, tr.host, tr.root, tr.app, tr.connector} {
		assert.Equal(t, lifecycle.StateStarted, c.State())
	}

	tests := []struct {
		name  string
		host  string
		path  string
		want  string
		route []string
	}{
		{"exact context", "localhost", "/app", "app", []string{"localhost", "/app"}},
		{"nested path", "LOCALHOST", "/app/x/y", "app", []string{"localhost", "/app"}},
		{"root context", "localhost", "/other", "root", []string{"localhost", ""}},
		{"prefix is not a segment", "localhost", "/apple", "root", []string{"localhost", ""}},
		{"default host", "unknown.example", "/app", "app", []string{"localhost", "/app"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := tr.connector.Submit(context.Background(), tt.host, tt.path, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ex.Response)
			assert.Equal(t, tt.route, ex.Route())
			assert.NotEmpty(t, ex.ID)
		})
	}
	assert.EqualValues(t, len(tests), tr.connector.Accepted())
}

func TestEngine_MapHostAliases(t *testing.T) {
	e := NewEngine("e")
	h := NewHost("www.example.com")
	h.AddAlias("Example.COM")
	h.AddAlias("example.com")
	require.NoError(t, e.AddChild(h))

	assert.Same(t, h, e.MapHost("www.example.com"))
	assert.Same(t, h, e.MapHost("EXAMPLE.com"))
	assert.Nil(t, e.MapHost("other"))
	assert.Equal(t, []string{"example.com"}, h.Aliases())

	h.RemoveAlias("EXAMPLE.COM")
	assert.Nil(t, e.MapHost("example.com"))
}

func TestEngine_NoHost(t *testing.T) {
	e := NewEngine("e", container.WithBackgroundDelay(0))
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })

	err := e.Pipeline().Invoke(context.Background(), pipeline.NewExchange("1", "nowhere", "/", nil))
	assert.ErrorIs(t, err, ErrNoHost)
}

func TestEngine_RejectsParentAndNonHosts(t *testing.T) {
	e := NewEngine("e")
	assert.ErrorIs(t, e.SetParent(NewEngine("other")), container.ErrRootContainer)
	assert.ErrorIs(t, e.AddChild(NewContext("/x")), container.ErrInvalidChild)

	h := NewHost("h")
	assert.ErrorIs(t, h.AddChild(NewHost("nested")), container.ErrInvalidChild)
	assert.ErrorIs(t, NewContext("/a").AddChild(NewContext("/b")), container.ErrInvalidChild)
	assert.Equal(t, DefaultEngineBackgroundDelay, e.BackgroundProcessorDelay())
}

func TestInstallBasic_PanicsOnRejectedValve(t *testing.T) {
	e := NewEngine("e")
	routing := e.Pipeline().Basic()
	require.NotNil(t, routing)

	extra := pipeline.NewFuncValve("extra", func(ctx context.Context, ex *pipeline.Exchange, next pipeline.Valve) error {
		return nil
	})
	require.NoError(t, e.Pipeline().AddValve(extra))
	assert.Panics(t, func() { installBasic(e.Pipeline(), extra) })
	assert.Same(t, routing, e.Pipeline().Basic())
}

func TestHost_NoContextAndStoppedContext(t *testing.T) {
	e := NewEngine("e", container.WithBackgroundDelay(0))
	e.SetDefaultHost("h")
	h := NewHost("h")
	app := NewContext("/app")
	app.SetHandler(echo("app"))
	require.NoError(t, h.AddChild(app))
	require.NoError(t, e.AddChild(h))
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })

	err := e.Pipeline().Invoke(context.Background(), pipeline.NewExchange("1", "h", "/missing", nil))
	assert.ErrorIs(t, err, ErrNoContext)

	require.NoError(t, app.Stop())
	err = e.Pipeline().Invoke(context.Background(), pipeline.NewExchange("2", "h", "/app", nil))
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestContext_NoHandler(t *testing.T) {
	c := NewContext("/x")
	require.NoError(t, c.Start())
	err := c.Pipeline().Invoke(context.Background(), pipeline.NewExchange("1", "", "/x", nil))
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestContext_DocBaseLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644))

	c := NewContext("/docs")
	c.SetDocBase(dir)
	require.NoError(t, c.Start())

	data, err := fs.ReadFile(c.Loader(), "index.html")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	missing := NewContext("/missing")
	missing.SetDocBase(filepath.Join(dir, "nope"))
	assert.Error(t, missing.Start())
	assert.Equal(t, lifecycle.StateFailed, missing.State())
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"":      "",
		"/":     "",
		"/app":  "/app",
		"/app/": "/app",
		"app":   "/app",
		"/a/b":  "/a/b",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePath(in), in)
	}
}

func TestHost_Directories(t *testing.T) {
	tr := newTree(t)
	base := tr.server.BaseDir()

	assert.Equal(t, filepath.Join(base, "conf", "main", "localhost"), tr.host.ConfigBase())
	assert.Equal(t, filepath.Join(base, DefaultAppBase), tr.host.AppBaseDir())

	require.NoError(t, tr.server.Start())
	t.Cleanup(func() { _ = tr.server.Stop() })
	assert.DirExists(t, tr.host.ConfigBase())
	assert.DirExists(t, tr.host.AppBaseDir())

	abs := t.TempDir()
	tr.host.SetConfigBase(abs)
	assert.Equal(t, abs, tr.host.ConfigBase())
}

func TestHost_DeployIgnore(t *testing.T) {
	h := NewHost("h")
	assert.False(t, h.DeployIgnored("skip.toml"))
	require.NoError(t, h.SetDeployIgnore(`^skip`))
	assert.True(t, h.DeployIgnored("skip.toml"))
	assert.False(t, h.DeployIgnored("keep.toml"))
	assert.Error(t, h.SetDeployIgnore(`(`))
}

type orderLog struct {
	mu    sync.Mutex
	steps []string
}

func (o *orderLog) add(s string) {
	o.mu.Lock()
	o.steps = append(o.steps, s)
	o.mu.Unlock()
}

func (o *orderLog) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.steps...)
}

type recordingConnector struct {
	lifecycle.Runner
	name     string
	log      *orderLog
	startErr error
}

func newRecordingConnector(name string, log *orderLog) *recordingConnector {
	c := &recordingConnector{name: name, log: log}
	c.Bind(c, name, lifecycle.Hooks{
		Start: func() error {
			log.add("start " + name)
			if c.startErr != nil {
				return c.startErr
			}
			return c.SetState(lifecycle.StateStarting)
		},
		Stop: func() error {
			log.add("stop " + name)
			return c.SetState(lifecycle.StateStopping)
		},
	})
	return c
}

func (c *recordingConnector) Name() string        { return c.name }
func (c *recordingConnector) SetService(*Service) {}
func (c *recordingConnector) Pause() error        { c.log.add("pause " + c.name); return nil }
func (c *recordingConnector) Resume() error       { return nil }

type recordingExecutor struct {
	lifecycle.Runner
	name string
}

func newRecordingExecutor(name string, log *orderLog) *recordingExecutor {
	e := &recordingExecutor{name: name}
	e.Bind(e, name, lifecycle.Hooks{
		Start: func() error {
			log.add("start " + name)
			return e.SetState(lifecycle.StateStarting)
		},
		Stop: func() error {
			log.add("stop " + name)
			return e.SetState(lifecycle.StateStopping)
		},
	})
	return e
}

func (e *recordingExecutor) Name() string             { return e.name }
func (e *recordingExecutor) Execute(task func()) error { task(); return nil }

func TestService_CascadeOrder(t *testing.T) {
	order := &orderLog{}
	engine := NewEngine("e", container.WithBackgroundDelay(0))
	engine.AddListener(lifecycle.NewListener(func(e lifecycle.Event) {
		switch e.Type {
		case lifecycle.EventAfterStart:
			order.add("start container")
		case lifecycle.EventBeforeStop:
			order.add("stop container")
		}
	}))

	svc := NewService("svc")
	require.NoError(t, svc.SetContainer(engine))
	require.NoError(t, svc.AddExecutor(newRecordingExecutor("exec", order)))
	good := newRecordingConnector("good", order)
	bad := newRecordingConnector("bad", order)
	bad.startErr = errors.New("port in use")
	require.NoError(t, svc.AddConnector(bad))
	require.NoError(t, svc.AddConnector(good))

	require.NoError(t, svc.Start())
	assert.Equal(t, lifecycle.StateStarted, good.State())
	assert.Equal(t, lifecycle.StateFailed, bad.State())

	require.NoError(t, svc.Stop())
	assert.Equal(t, []string{
		"start container", "start exec", "start bad", "start good",
		"pause bad", "pause good", "stop container", "stop good", "stop exec",
	}, order.snapshot())
	assert.Same(t, svc, engine.Service())
}

func TestService_ExecutorsByName(t *testing.T) {
	svc := NewService("svc")
	order := &orderLog{}
	e := newRecordingExecutor("pool", order)
	require.NoError(t, svc.AddExecutor(e))
	require.NoError(t, svc.AddExecutor(newRecordingExecutor("pool", order)))
	assert.Len(t, svc.Executors(), 1)
	assert.Same(t, e, svc.Executor("pool"))

	svc.RemoveExecutor(e)
	assert.Nil(t, svc.Executor("pool"))
}

func TestService_ConnectorAddedWhileStarted(t *testing.T) {
	svc := NewService("svc")
	require.NoError(t, svc.Start())

	c := NewLocalConnector("late")
	require.NoError(t, svc.AddConnector(c))
	assert.Equal(t, lifecycle.StateStarted, c.State())

	svc.RemoveConnector(c)
	assert.Equal(t, lifecycle.StateStopped, c.State())
	assert.Nil(t, c.Service())
	assert.Empty(t, svc.Connectors())
}

func TestLocalConnector_Rejections(t *testing.T) {
	tr := newTree(t)

	_, err := tr.connector.Submit(context.Background(), "localhost", "/", nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, tr.server.Start())
	t.Cleanup(func() { _ = tr.server.Stop() })

	require.NoError(t, tr.connector.Pause())
	_, err = tr.connector.Submit(context.Background(), "localhost", "/", nil)
	assert.ErrorIs(t, err, ErrPaused)

	require.NoError(t, tr.connector.Resume())
	_, err = tr.connector.Submit(context.Background(), "localhost", "/", nil)
	assert.NoError(t, err)
}

func TestLocalConnector_SubmitAsyncOnExecutor(t *testing.T) {
	tr := newTree(t)
	exec := NewPoolExecutor("workers", WithThreads(2))
	require.NoError(t, tr.service.AddExecutor(exec))
	async := NewLocalConnector("async", WithExecutor(exec))
	require.NoError(t, tr.service.AddConnector(async))

	require.NoError(t, tr.server.Start())
	t.Cleanup(func() { _ = tr.server.Stop() })

	results := make(chan interface{}, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, async.SubmitAsync(context.Background(), "localhost", "/app", nil,
			func(ex *pipeline.Exchange, err error) {
				if err != nil {
					results <- err
					return
				}
				results <- ex.Response
			}))
	}
	for i := 0; i < 3; i++ {
		select {
		case r := <-results:
			assert.Equal(t, "app", r)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for async exchange")
		}
	}
}

func TestPoolExecutor_Lifecycle(t *testing.T) {
	e := NewPoolExecutor("pool", WithThreads(1), WithShutdownTimeout(time.Second))
	assert.ErrorIs(t, e.Execute(func() {}), ErrNotStarted)

	require.NoError(t, e.Start())
	done := make(chan struct{})
	require.NoError(t, e.Execute(func() { close(done) }))
	<-done

	require.NoError(t, e.Stop())
	assert.ErrorIs(t, e.Execute(func() {}), ErrNotStarted)
}

func TestServer_AwaitAndConfigureEvents(t *testing.T) {
	tr := newTree(t)
	var events []string
	tr.server.AddListener(lifecycle.NewListener(func(e lifecycle.Event) {
		if e.Type == lifecycle.EventConfigureStart || e.Type == lifecycle.EventConfigureStop {
			events = append(events, e.Type)
		}
	}))
	require.NoError(t, tr.server.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.server.Await(ctx), context.DeadlineExceeded)

	awaited := make(chan error, 1)
	go func() { awaited <- tr.server.Await(context.Background()) }()

	require.NoError(t, tr.server.Stop())
	select {
	case err := <-awaited:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Await did not return after Stop")
	}
	assert.Equal(t, []string{lifecycle.EventConfigureStart, lifecycle.EventConfigureStop}, events)

	require.NoError(t, tr.server.Destroy())
	assert.Equal(t, lifecycle.StateDestroyed, tr.engine.State())
	assert.Equal(t, lifecycle.StateDestroyed, tr.host.State())
	assert.Equal(t, lifecycle.StateDestroyed, tr.connector.State())
}

func TestServer_FailedServiceAbortsStart(t *testing.T) {
	srv := NewServer("dice")
	svc := NewService("svc")
	e := NewEngine("e", container.WithBackgroundDelay(0))
	h := NewHost("h")
	broken := NewContext("/broken")
	broken.SetDocBase(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, h.AddChild(broken))
	require.NoError(t, e.AddChild(h))
	require.NoError(t, svc.SetContainer(e))
	require.NoError(t, srv.AddService(svc))

	err := srv.Start()
	require.Error(t, err)
	var agg *container.ChildStartError
	assert.ErrorAs(t, err, &agg)
	assert.Equal(t, lifecycle.StateFailed, srv.State())
}

func TestServer_FindAndRemoveService(t *testing.T) {
	tr := newTree(t)
	require.NoError(t, tr.server.Start())

	assert.Same(t, tr.service, tr.server.FindService("main"))
	tr.server.RemoveService(tr.service)
	assert.Nil(t, tr.server.FindService("main"))
	assert.Equal(t, lifecycle.StateStopped, tr.service.State())
	assert.Equal(t, lifecycle.StateStopped, tr.engine.State())
	require.NoError(t, tr.server.Stop())
}
