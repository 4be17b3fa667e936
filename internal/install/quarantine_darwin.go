//go:build darwin

package install

import (
	"errors"

	"golang.org/x/sys/unix"
)

// clearQuarantineAttr strips the Gatekeeper quarantine attribute so the
// freshly installed binary can be executed without a prompt. A missing
// attribute is not an error.
func clearQuarantineAttr(path string) error {
	err := unix.Removexattr(path, "com.apple.quarantine")
	if err != nil && !errors.Is(err, unix.ENOATTR) {
		return err
	}
	return nil
}
