// Package objectstore provides per-task blob storage for docstream.
//
// Objects are namespaced by task ID and keyed by category-prefixed paths:
// pdfs/<name> for uploaded documents, parquets/<name> for result artifacts,
// anything else lands under others/.
package objectstore

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound indicates the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Key categories.
const (
	CategoryPDFs     = "pdfs"
	CategoryParquets = "parquets"
	CategoryOthers   = "others"
)

// Store is the per-task blob storage contract.
type Store interface {
	// Put stores data under the task's namespace.
	Put(ctx context.Context, taskID, key string, data []byte, contentType string) error
	// Get retrieves an object. Returns ErrNotFound when absent.
	Get(ctx context.Context, taskID, key string) ([]byte, error)
	// List returns the keys under the task's namespace matching prefix.
	// An empty prefix lists everything.
	List(ctx context.Context, taskID, prefix string) ([]string, error)
}

// PDFKey builds the object key for an uploaded document.
func PDFKey(filename string) string {
	return CategoryPDFs + "/" + filename
}

// ParquetKey builds the object key for a result artifact of the given data
// type, mirroring the worker's naming scheme: parquets/<dataType>_<filename
// without extension>.parquet.
func ParquetKey(dataType, filename string) string {
	base := strings.TrimSuffix(filename, ".pdf")
	return CategoryParquets + "/" + dataType + "_" + base + ".parquet"
}

// Category returns the category a key belongs to.
func Category(key string) string {
	switch {
	case strings.HasPrefix(key, CategoryPDFs+"/"):
		return CategoryPDFs
	case strings.HasPrefix(key, CategoryParquets+"/"):
		return CategoryParquets
	default:
		return CategoryOthers
	}
}
