//go:build !windows

package evtapi

// SystemAPI is only implemented on windows.
func SystemAPI() (API, error) {
	return nil, ErrUnsupportedPlatform
}
