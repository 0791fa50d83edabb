//go:build unix

package config

import (
	"fmt"
	"os"
)

// exposure reports whether users other than the owner can read path, how,
// and the command that makes it private.
func exposure(path string) (detail, fix string, exposed bool) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", false
	}
	mode := info.Mode().Perm()
	if mode&0077 == 0 {
		return "", "", false
	}
	return fmt.Sprintf("mode %04o", mode), "chmod 600 " + path, true
}
