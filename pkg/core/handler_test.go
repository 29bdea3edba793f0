package core

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/pipeline"
)

func TestFileHandler(t *testing.T) {
	files := fstest.MapFS{
		"index.html":   &fstest.MapFile{Data: []byte("index")},
		"css/site.css": &fstest.MapFile{Data: []byte("body{}")},
	}
	c := NewContext("/docs", container.WithLoader(files))
	h := FileHandler(c)

	tests := []struct {
		path string
		want string
		err  error
	}{
		{"/docs", "index", nil},
		{"/docs/", "index", nil},
		{"/docs/css/site.css", "body{}", nil},
		{"/docs/missing.txt", "", fs.ErrNotExist},
		{"/docs/../secret", "", fs.ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ex := pipeline.NewExchange("1", "", tt.path, nil)
			err := h.Serve(context.Background(), ex)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(ex.Response.([]byte)))
		})
	}
}

func TestFileHandler_NoLoader(t *testing.T) {
	c := NewContext("/empty")
	err := FileHandler(c).Serve(context.Background(), pipeline.NewExchange("1", "", "/empty", nil))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
