//go:build !darwin

package install

// clearQuarantineAttr is a no-op outside macOS; only Gatekeeper quarantines
// downloaded executables.
func clearQuarantineAttr(string) error { return nil }
