//go:build windows

package config

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Principals whose presence in the ACL means other local accounts can read
// the file.
var sharedPrincipals = []string{"everyone", "authenticated users", "builtin\\users", "users"}

// exposure reports whether users other than the owner can read path, how,
// and the command that makes it private.
func exposure(path string) (detail, fix string, exposed bool) {
	if _, err := os.Stat(path); err != nil {
		return "", "", false
	}
	out, err := exec.Command("icacls", path).Output()
	if err != nil {
		return "", "", false
	}
	acl := strings.ToLower(string(out))
	for _, p := range sharedPrincipals {
		if strings.Contains(acl, p) {
			return "granted to " + p,
				fmt.Sprintf(`icacls "%s" /inheritance:r /grant:r "%%USERNAME%%:F"`, path), true
		}
	}
	return "", "", false
}
