// Package storage is the upload capability used for listing media.
package storage

import (
	"context"
	"path"
	"strings"
)

// File is one uploaded blob.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Uploader stores files and returns the URI they are served under. Delete
// takes the URI returned by Store.
type Uploader interface {
	Store(ctx context.Context, f File, category string) (string, error)
	Delete(ctx context.Context, uri string) error
}

// objectURI builds "/<category>/<name><ext>", keeping the original extension.
func objectURI(category, name, original string) string {
	ext := strings.ToLower(path.Ext(original))
	return "/" + strings.Trim(category, "/") + "/" + name + ext
}

// keyFromURI strips the leading slash used in served URIs.
func keyFromURI(uri string) string {
	return strings.TrimPrefix(uri, "/")
}
