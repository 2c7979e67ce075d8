// Package file implements config.Source by reading a single file from disk.
package file

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/omalloc/depot/contrib/config"
)

var _ config.Source = (*fileSource)(nil)

type fileSource struct {
	path string
}

// NewSource builds a config.Source that loads path once per Load call.
// Format is inferred from the file extension (.yaml/.yml/.json); anything
// else is treated as raw (Format == "").
func NewSource(path string) config.Source {
	return &fileSource{path: path}
}

// Load implements config.Source.
func (f *fileSource) Load() ([]*config.KeyValue, error) {
	buf, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	return []*config.KeyValue{
		{
			Key:    filepath.Base(f.path),
			Value:  buf,
			Format: formatOf(f.path),
		},
	}, nil
}

// Watch implements config.Source.
//
// TODO: wire fsnotify once a caller needs live config reload outside SIGHUP.
func (f *fileSource) Watch() (config.Watcher, error) {
	panic("unimplemented")
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}
