package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/pipeline"
)

// Handler terminates an exchange inside a Context.
type Handler interface {
	Serve(ctx context.Context, ex *pipeline.Exchange) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, ex *pipeline.Exchange) error

// Serve calls f.
func (f HandlerFunc) Serve(ctx context.Context, ex *pipeline.Exchange) error {
	return f(ctx, ex)
}

// Context is one application mounted on a Host at a path. It is a leaf.
type Context struct {
	container.Base

	path string

	mu      sync.RWMutex
	docBase string
	handler Handler
}

// NewContext creates a context mounted at path. "" and "/" both denote the
// root context. The context's name is its normalized path.
func NewContext(path string, opts ...container.Option) *Context {
	path = NormalizePath(path)
	c := &Context{path: path}

	base := []container.Option{
		container.WithChildValidator(func(child container.Container) error {
			return fmt.Errorf("%w: context %q cannot have children",
				container.ErrInvalidChild, path)
		}),
		container.WithHooks(lifecycle.Hooks{Start: c.prepare}),
	}
	c.Setup(c, path, append(base, opts...)...)

	installBasic(c.Pipeline(), newContextValve(c))
	return c
}

// NormalizePath maps "/" to "" and strips a trailing slash.
func NormalizePath(path string) string {
	path = strings.TrimSuffix(path, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// Path returns the mount path, "" for the root context.
func (c *Context) Path() string {
	return c.path
}

// Matches reports whether a request path falls under this context.
func (c *Context) Matches(path string) bool {
	if c.path == "" {
		return true
	}
	return path == c.path || strings.HasPrefix(path, c.path+"/")
}

// DocBase returns the document base directory.
func (c *Context) DocBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docBase
}

// SetDocBase sets the document base directory. When the context has no
// loader of its own, starting it installs one rooted at the doc base.
func (c *Context) SetDocBase(dir string) {
	c.mu.Lock()
	c.docBase = dir
	c.mu.Unlock()
}

// Handler returns the terminal handler.
func (c *Context) Handler() Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler
}

// SetHandler sets the terminal handler.
func (c *Context) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Context) prepare() error {
	dir := c.DocBase()
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("doc base: %w", err)
	}
	if c.OwnLoader() == nil {
		c.SetLoader(os.DirFS(dir))
	}
	return nil
}
