package wevt

import (
	"fmt"
	"io"

	"wevt_dumper/internal/evtapi"
	"wevt_dumper/internal/evtapi/fakeevtapi"

	"github.com/phuslu/log"
)

// newTestClient returns a client over api that logs everything to nowhere.
func newTestClient(api evtapi.API, opts ...func(*Options)) *Client {
	o := Options{
		Logger: &log.Logger{Level: log.TraceLevel, Writer: &log.IOWriter{Writer: io.Discard}},
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewClient(api, o)
}

func eventXML(channel string, recordID int) string {
	return fmt.Sprintf(`<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">`+
		`<System><Provider Name="Microsoft-Windows-Security-Auditing"/><EventID>4624</EventID>`+
		`<EventRecordID>%d</EventRecordID><Channel>%s</Channel></System></Event>`, recordID, channel)
}

func events(channel string, n int) []*fakeevtapi.Event {
	out := make([]*fakeevtapi.Event, n)
	for i := range out {
		out[i] = &fakeevtapi.Event{XML: eventXML(channel, i+1)}
	}
	return out
}

// newEventLog returns a fake with the Application and Security channels.
func newEventLog(application, security int) *fakeevtapi.API {
	api := fakeevtapi.New()
	api.Channels = []string{"Application", "Security"}
	api.Logs["Application"] = events("Application", application)
	api.Logs["Security"] = events("Security", security)
	return api
}
