//go:build windows

package windowsapi

import (
	"errors"
	"fmt"
	"slices"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc/mgr"
)

// QueryService returns the current status of the named service and the
// other running services that share its process.
func QueryService(name string) (ServiceStatus, error) {
	st := ServiceStatus{Name: name}

	m, err := mgr.Connect()
	if err != nil {
		return st, fmt.Errorf("failed to connect to SCM: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return st, fmt.Errorf("failed to open service %s: %w", name, err)
	}
	defer s.Close()

	q, err := s.Query()
	if err != nil {
		return st, fmt.Errorf("failed to query service %s: %w", name, err)
	}
	st.State = ServiceState(q.State)
	st.ProcessID = q.ProcessId
	if st.ProcessID == 0 {
		return st, nil
	}

	byPID, err := runningServices(m)
	if err != nil {
		// The state is still meaningful without the co-hosted list.
		return st, err
	}
	st.CoHosted = coHosted(byPID, st.ProcessID, name)
	return st, nil
}

// runningServices maps the process id of every running win32 service to
// the names of the services it hosts.
func runningServices(m *mgr.Mgr) (map[uint32][]string, error) {
	var bytesNeeded, servicesReturned uint32
	buf := make([]byte, 16<<10)

	for {
		err := windows.EnumServicesStatusEx(
			m.Handle,
			windows.SC_ENUM_PROCESS_INFO,
			windows.SERVICE_WIN32,
			windows.SERVICE_ACTIVE,
			&buf[0],
			uint32(len(buf)),
			&bytesNeeded,
			&servicesReturned,
			nil,
			nil,
		)
		if err == nil {
			break
		}
		if errors.Is(err, syscall.ERROR_MORE_DATA) {
			buf = make([]byte, bytesNeeded)
			continue
		}
		return nil, fmt.Errorf("EnumServicesStatusEx failed: %w", err)
	}

	byPID := make(map[uint32][]string)
	if servicesReturned == 0 {
		return byPID, nil
	}
	services := unsafe.Slice((*windows.ENUM_SERVICE_STATUS_PROCESS)(unsafe.Pointer(&buf[0])), servicesReturned)
	for i := range services {
		pid := services[i].ServiceStatusProcess.ProcessId
		if pid != 0 {
			byPID[pid] = append(byPID[pid], windows.UTF16PtrToString(services[i].ServiceName))
		}
	}
	for _, names := range byPID {
		slices.Sort(names)
	}
	return byPID, nil
}
