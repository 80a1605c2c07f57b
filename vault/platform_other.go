//go:build !windows

package vault

// platformProtector returns nil: no platform secret store is used outside
// Windows.
func platformProtector() Protector { return nil }
