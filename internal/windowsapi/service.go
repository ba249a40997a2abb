// Package windowsapi queries the Service Control Manager about the service
// that hosts the event log.
package windowsapi

import (
	"errors"
	"fmt"
)

// EventLogService is the name of the Windows Event Log service.
const EventLogService = "EventLog"

// ErrUnsupportedPlatform is returned on systems without a Service Control
// Manager.
var ErrUnsupportedPlatform = errors.New("service control manager is only available on windows")

// ServiceState mirrors SERVICE_STATUS.dwCurrentState.
type ServiceState uint32

const (
	ServiceStopped         ServiceState = 1
	ServiceStartPending    ServiceState = 2
	ServiceStopPending     ServiceState = 3
	ServiceRunning         ServiceState = 4
	ServiceContinuePending ServiceState = 5
	ServicePausePending    ServiceState = 6
	ServicePaused          ServiceState = 7
)

func (s ServiceState) String() string {
	switch s {
	case ServiceStopped:
		return "stopped"
	case ServiceStartPending:
		return "start pending"
	case ServiceStopPending:
		return "stop pending"
	case ServiceRunning:
		return "running"
	case ServiceContinuePending:
		return "continue pending"
	case ServicePausePending:
		return "pause pending"
	case ServicePaused:
		return "paused"
	}
	return fmt.Sprintf("unknown (%d)", uint32(s))
}

// ServiceStatus describes a service and the process hosting it.
type ServiceStatus struct {
	Name      string
	State     ServiceState
	ProcessID uint32
	// CoHosted lists the other running services sharing the process, as
	// happens with svchost.exe.
	CoHosted []string
}

// Running reports whether the service can serve requests.
func (s ServiceStatus) Running() bool { return s.State == ServiceRunning }

// coHosted returns the services of byPID hosted by pid, except name.
func coHosted(byPID map[uint32][]string, pid uint32, name string) []string {
	var out []string
	for _, svc := range byPID[pid] {
		if svc != name {
			out = append(out, svc)
		}
	}
	return out
}
