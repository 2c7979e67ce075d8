package bucket

import (
	"mime"
	"path/filepath"
)

// mimeType resolves name's MIME type from its extension, falling back to a
// generic octet stream when the extension is unknown.
func mimeType(name string) string {
	t := mime.TypeByExtension(filepath.Ext(name))
	if t == "" {
		return "application/octet-stream"
	}
	return t
}
