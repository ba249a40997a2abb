//go:build !windows

package windowsapi

// QueryService is only implemented on windows.
func QueryService(name string) (ServiceStatus, error) {
	return ServiceStatus{Name: name}, ErrUnsupportedPlatform
}
