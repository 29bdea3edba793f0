package core

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"github.com/corticerasf/dice/pkg/pipeline"
)

// IndexFile is served for the context root.
const IndexFile = "index.html"

// FileHandler serves files from c's loader. The file name is the exchange
// path relative to the context path, and the contents become the response.
func FileHandler(c *Context) Handler {
	return HandlerFunc(func(ctx context.Context, ex *pipeline.Exchange) error {
		loader := c.Loader()
		if loader == nil {
			return fmt.Errorf("context %q has no loader: %w", c.Path(), fs.ErrNotExist)
		}

		name := strings.TrimPrefix(strings.TrimPrefix(ex.Path, c.Path()), "/")
		if name == "" {
			name = IndexFile
		}
		if !fs.ValidPath(name) {
			return fmt.Errorf("%w: %q", fs.ErrInvalid, name)
		}

		data, err := fs.ReadFile(loader, name)
		if err != nil {
			return err
		}
		ex.Response = data
		return nil
	})
}
