package transport

import "github.com/pkg/xattr"

// applyXattrs writes each captured extended attribute back onto path,
// mirroring the Scanner's pkg/xattr-based capture in reverse.
func applyXattrs(path string, attrs map[string][]byte) error {
	for name, value := range attrs {
		if err := xattr.Set(path, name, value); err != nil {
			return err
		}
	}
	return nil
}
