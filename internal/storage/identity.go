package storage

import "path/filepath"

// Identity normalizes a file path into the key the cache uses for
// mapping equality: two map() calls for paths that clean to the same
// string join the same mapping rather than opening the file twice.
func Identity(file string) string {
	return filepath.Clean(file)
}
