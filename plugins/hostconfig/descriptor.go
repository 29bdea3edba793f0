package hostconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
)

// DescriptorExt is the extension of context descriptor files.
const DescriptorExt = ".toml"

// RootName is the descriptor base name of the root context.
const RootName = "ROOT"

// Descriptor is a context deployment descriptor read from the host's
// config base.
type Descriptor struct {
	DocBase string `toml:"doc_base" validate:"required"`
	Type    string `toml:"type"`
}

// ReadDescriptor parses and validates the descriptor at path.
func ReadDescriptor(path string) (*Descriptor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := toml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("parse descriptor %s: %w", path, err)
	}
	if err := validator.New().Struct(&d); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &d, nil
}

// ContextPath maps a descriptor file name to a context path:
// ROOT.toml is "", a#b.toml is "/a/b".
func ContextPath(file string) string {
	base := strings.TrimSuffix(file, DescriptorExt)
	if base == RootName {
		return ""
	}
	return "/" + strings.ReplaceAll(base, "#", "/")
}

// DescriptorName is the inverse of ContextPath.
func DescriptorName(path string) string {
	if path == "" || path == "/" {
		return RootName + DescriptorExt
	}
	return strings.ReplaceAll(strings.TrimPrefix(path, "/"), "/", "#") + DescriptorExt
}
