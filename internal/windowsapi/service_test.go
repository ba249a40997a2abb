package windowsapi

import (
	"slices"
	"testing"
)

func TestServiceStateString(t *testing.T) {
	tests := []struct {
		state ServiceState
		want  string
	}{
		{ServiceRunning, "running"},
		{ServiceStopped, "stopped"},
		{ServicePausePending, "pause pending"},
		{ServiceState(42), "unknown (42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ServiceState(%d).String() = %q, want %q", uint32(tt.state), got, tt.want)
		}
	}
}

func TestCoHosted(t *testing.T) {
	byPID := map[uint32][]string{
		1592: {"EventLog", "EventSystem", "netprofm"},
		804:  {"Dhcp"},
	}
	if got := coHosted(byPID, 1592, "EventLog"); !slices.Equal(got, []string{"EventSystem", "netprofm"}) {
		t.Errorf("coHosted() = %v", got)
	}
	if got := coHosted(byPID, 4, "EventLog"); got != nil {
		t.Errorf("coHosted() = %v for an unknown pid", got)
	}
}

func TestQueryEventLogService(t *testing.T) {
	st, err := QueryService(EventLogService)
	if err == ErrUnsupportedPlatform {
		t.Skip(err)
	}
	if err != nil {
		t.Fatalf("QueryService(%s): %v", EventLogService, err)
	}
	if st.Running() && st.ProcessID == 0 {
		t.Errorf("running service reports no process: %+v", st)
	}
	t.Logf("%s: %s pid=%d cohosted=%v", st.Name, st.State, st.ProcessID, st.CoHosted)
}
