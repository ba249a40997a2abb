package wevt

import (
	"errors"
	"syscall"
	"testing"

	"wevt_dumper/internal/evtapi"
	"wevt_dumper/internal/evtapi/fakeevtapi"
)

var taskGUID = evtapi.GUID{Data1: 0xdbe9b383, Data2: 0x7cf3, Data3: 0x4331, Data4: [8]byte{0x91, 0xcc, 0xa3, 0xcb, 0x16, 0xa3, 0xb5, 0x38}}

// winlogon returns a publisher with every property and sub-collection set.
func winlogon() *fakeevtapi.Publisher {
	return &fakeevtapi.Publisher{Properties: map[uint32]fakeevtapi.Value{
		evtapi.EvtPublisherMetadataPublisherGuid:      fakeevtapi.GUID(testGUID),
		evtapi.EvtPublisherMetadataResourceFilePath:   fakeevtapi.String(`%SystemRoot%\system32\winlogon.exe`),
		evtapi.EvtPublisherMetadataParameterFilePath:  fakeevtapi.String(`%SystemRoot%\system32\kernel32.dll`),
		evtapi.EvtPublisherMetadataMessageFilePath:    fakeevtapi.String(`%SystemRoot%\system32\winlogon.exe`),
		evtapi.EvtPublisherMetadataPublisherMessageID: fakeevtapi.UInt32(0x9000000a),
		evtapi.EvtPublisherMetadataChannelReferences: fakeevtapi.Handle(&fakeevtapi.ObjectArray{Items: []map[uint32]fakeevtapi.Value{
			{
				evtapi.EvtPublisherMetadataChannelReferencePath:      fakeevtapi.String("Application"),
				evtapi.EvtPublisherMetadataChannelReferenceIndex:     fakeevtapi.UInt32(0),
				evtapi.EvtPublisherMetadataChannelReferenceID:        fakeevtapi.UInt32(9),
				evtapi.EvtPublisherMetadataChannelReferenceFlags:     fakeevtapi.UInt32(evtapi.EvtChannelReferenceImported),
				evtapi.EvtPublisherMetadataChannelReferenceMessageID: fakeevtapi.UInt32(0xffffffff),
			},
			{
				evtapi.EvtPublisherMetadataChannelReferencePath:      fakeevtapi.String("Microsoft-Windows-Winlogon/Operational"),
				evtapi.EvtPublisherMetadataChannelReferenceIndex:     fakeevtapi.UInt32(1),
				evtapi.EvtPublisherMetadataChannelReferenceID:        fakeevtapi.UInt32(16),
				evtapi.EvtPublisherMetadataChannelReferenceFlags:     fakeevtapi.UInt32(0),
				evtapi.EvtPublisherMetadataChannelReferenceMessageID: fakeevtapi.UInt32(0x90000001),
			},
		}}),
		evtapi.EvtPublisherMetadataLevels: fakeevtapi.Handle(&fakeevtapi.ObjectArray{Items: []map[uint32]fakeevtapi.Value{
			{
				evtapi.EvtPublisherMetadataLevelName:      fakeevtapi.String("Error"),
				evtapi.EvtPublisherMetadataLevelValue:     fakeevtapi.UInt32(2),
				evtapi.EvtPublisherMetadataLevelMessageID: fakeevtapi.UInt32(0x50000002),
			},
			{
				evtapi.EvtPublisherMetadataLevelName:      fakeevtapi.String("Information"),
				evtapi.EvtPublisherMetadataLevelValue:     fakeevtapi.UInt32(4),
				evtapi.EvtPublisherMetadataLevelMessageID: fakeevtapi.UInt32(0x50000004),
			},
		}}),
		evtapi.EvtPublisherMetadataTasks: fakeevtapi.Handle(&fakeevtapi.ObjectArray{Items: []map[uint32]fakeevtapi.Value{
			{
				evtapi.EvtPublisherMetadataTaskName:      fakeevtapi.String("NotificationEvents"),
				evtapi.EvtPublisherMetadataTaskEventGuid: fakeevtapi.GUID(taskGUID),
				evtapi.EvtPublisherMetadataTaskValue:     fakeevtapi.UInt32(1101),
				evtapi.EvtPublisherMetadataTaskMessageID: fakeevtapi.UInt32(0x7000044d),
			},
		}}),
		evtapi.EvtPublisherMetadataOpcodes: fakeevtapi.Handle(&fakeevtapi.ObjectArray{Items: []map[uint32]fakeevtapi.Value{
			{
				evtapi.EvtPublisherMetadataOpcodeName:      fakeevtapi.String("Start"),
				evtapi.EvtPublisherMetadataOpcodeValue:     fakeevtapi.UInt32(1<<16 | 1101),
				evtapi.EvtPublisherMetadataOpcodeMessageID: fakeevtapi.UInt32(0x3000000b),
			},
		}}),
		evtapi.EvtPublisherMetadataKeywords: fakeevtapi.Handle(&fakeevtapi.ObjectArray{Items: []map[uint32]fakeevtapi.Value{
			{
				evtapi.EvtPublisherMetadataKeywordName:      fakeevtapi.String("Microsoft-Windows-Winlogon/Diagnostic"),
				evtapi.EvtPublisherMetadataKeywordValue:     fakeevtapi.UInt64(0x8000000000000000),
				evtapi.EvtPublisherMetadataKeywordMessageID: fakeevtapi.UInt32(0x1000003f),
			},
		}}),
	}}
}

func TestPublisherMetadata(t *testing.T) {
	api := fakeevtapi.New()
	api.Publishers["Microsoft-Windows-Winlogon"] = winlogon()
	c := newTestClient(api)

	md, err := c.PublisherMetadata("Microsoft-Windows-Winlogon")
	if err != nil {
		t.Fatal(err)
	}

	if md.Name != "Microsoft-Windows-Winlogon" {
		t.Errorf("Name = %q", md.Name)
	}
	if md.GUID == nil || *md.GUID != GUID(testGUID) {
		t.Errorf("GUID = %v, want %v", md.GUID, GUID(testGUID))
	}
	if md.ResourceFilePath != `%SystemRoot%\system32\winlogon.exe` {
		t.Errorf("ResourceFilePath = %q", md.ResourceFilePath)
	}
	if md.HelpLink != "" {
		t.Errorf("HelpLink = %q, want empty for an unset property", md.HelpLink)
	}
	if md.MessageID == nil || *md.MessageID != 0x9000000a {
		t.Errorf("MessageID = %v, want 0x9000000a", md.MessageID)
	}

	wantChannels := []ChannelReference{
		{Path: "Application", Index: 0, ID: 9, Imported: true, MessageID: 0xffffffff},
		{Path: "Microsoft-Windows-Winlogon/Operational", Index: 1, ID: 16, MessageID: 0x90000001},
	}
	if len(md.Channels) != len(wantChannels) {
		t.Fatalf("Channels = %+v", md.Channels)
	}
	for i, want := range wantChannels {
		if md.Channels[i] != want {
			t.Errorf("Channels[%d] = %+v, want %+v", i, md.Channels[i], want)
		}
	}

	wantLevels := []Level{{"Error", 2, 0x50000002}, {"Information", 4, 0x50000004}}
	if len(md.Levels) != 2 || md.Levels[0] != wantLevels[0] || md.Levels[1] != wantLevels[1] {
		t.Errorf("Levels = %+v, want %+v", md.Levels, wantLevels)
	}
	wantTask := Task{Name: "NotificationEvents", EventGUID: GUID(taskGUID), Value: 1101, MessageID: 0x7000044d}
	if len(md.Tasks) != 1 || md.Tasks[0] != wantTask {
		t.Errorf("Tasks = %+v, want [%+v]", md.Tasks, wantTask)
	}
	wantOpcode := Opcode{Name: "Start", Opcode: 1, Task: 1101, MessageID: 0x3000000b}
	if len(md.Opcodes) != 1 || md.Opcodes[0] != wantOpcode {
		t.Errorf("Opcodes = %+v, want [%+v]", md.Opcodes, wantOpcode)
	}
	wantKeyword := Keyword{Name: "Microsoft-Windows-Winlogon/Diagnostic", Mask: 0x8000000000000000, MessageID: 0x1000003f}
	if len(md.Keywords) != 1 || md.Keywords[0] != wantKeyword {
		t.Errorf("Keywords = %+v, want [%+v]", md.Keywords, wantKeyword)
	}

	if api.Live() != 0 {
		t.Errorf("%d handles still open after decoding", api.Live())
	}
	if api.MaxCloseCalls() != 1 {
		t.Errorf("a handle was closed %d times", api.MaxCloseCalls())
	}
}

func TestPublisherMetadataDegradesFailedFields(t *testing.T) {
	p := winlogon()
	p.Errors = map[uint32]syscall.Errno{
		evtapi.EvtPublisherMetadataParameterFilePath: evtapi.ERROR_EVT_INVALID_PUBLISHER_PROPERTY_VALUE,
		evtapi.EvtPublisherMetadataTasks:             evtapi.ERROR_NOT_SUPPORTED,
	}
	// A mistyped item property is left empty.
	levels := p.Properties[evtapi.EvtPublisherMetadataLevels].Data.(*fakeevtapi.ObjectArray)
	levels.Items[1][evtapi.EvtPublisherMetadataLevelValue] = fakeevtapi.String("four")
	// A scalar property unexpectedly carrying a handle is dropped and released.
	p.Properties[evtapi.EvtPublisherMetadataHelpLink] = fakeevtapi.Handle(&fakeevtapi.ObjectArray{})

	api := fakeevtapi.New()
	api.Publishers["Microsoft-Windows-Winlogon"] = p
	c := newTestClient(api)

	md, err := c.PublisherMetadata("Microsoft-Windows-Winlogon")
	if err != nil {
		t.Fatalf("PublisherMetadata() error = %v, want field failures absorbed", err)
	}
	if md.ParameterFilePath != "" {
		t.Errorf("ParameterFilePath = %q, want empty", md.ParameterFilePath)
	}
	if md.Tasks != nil {
		t.Errorf("Tasks = %+v, want none", md.Tasks)
	}
	if md.HelpLink != "" {
		t.Errorf("HelpLink = %q, want empty", md.HelpLink)
	}
	if len(md.Levels) != 2 || md.Levels[1].Name != "Information" || md.Levels[1].Value != 0 {
		t.Errorf("Levels = %+v, want the mistyped value left at zero", md.Levels)
	}
	if md.ResourceFilePath == "" || len(md.Channels) != 2 {
		t.Error("healthy fields were lost alongside the failed ones")
	}
	if api.Live() != 0 {
		t.Errorf("%d handles still open after decoding", api.Live())
	}
}

func TestPublisherMetadataDropsHandleArrays(t *testing.T) {
	p := winlogon()
	p.Properties[evtapi.EvtPublisherMetadataHelpLink] = fakeevtapi.Array(evtapi.EvtVarTypeEvtHandle,
		&fakeevtapi.ObjectArray{}, &fakeevtapi.ObjectArray{})

	api := fakeevtapi.New()
	api.Publishers["Microsoft-Windows-Winlogon"] = p
	c := newTestClient(api)

	m, err := c.OpenPublisherMetadata("Microsoft-Windows-Winlogon")
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	d := &metadataDecoder{m: m}
	if v := d.field(FieldHelpLink); v != nil {
		t.Errorf("field(HelpLink) = %#v, want nil", v)
	}
	if n := api.LiveOf(fakeevtapi.KindObjectArray); n != 0 {
		t.Errorf("%d array element handles still open", n)
	}
	if api.MaxCloseCalls() != 1 {
		t.Errorf("a handle was closed %d times", api.MaxCloseCalls())
	}

	md, err := c.PublisherMetadata("Microsoft-Windows-Winlogon")
	if err != nil {
		t.Fatalf("PublisherMetadata() error = %v", err)
	}
	if md.HelpLink != "" {
		t.Errorf("HelpLink = %q, want empty", md.HelpLink)
	}
}

func TestPublisherMetadataNotFound(t *testing.T) {
	api := fakeevtapi.New()
	c := newTestClient(api)

	md, err := c.PublisherMetadata("Nope")
	if md != nil {
		t.Errorf("PublisherMetadata() = %+v, want nil", md)
	}
	if !errors.Is(err, ErrPublisherMetadataNotFound) || !errors.Is(err, ErrAcquisitionFailed) {
		t.Errorf("PublisherMetadata() error = %v, want publisher metadata not found", err)
	}
}

func TestPublisherMetadataReportsReleaseFailure(t *testing.T) {
	api := fakeevtapi.New()
	api.Publishers["Microsoft-Windows-Winlogon"] = winlogon()
	api.CloseErrors = map[fakeevtapi.Kind]syscall.Errno{fakeevtapi.KindObjectArray: evtapi.ERROR_INVALID_HANDLE}
	c := newTestClient(api)

	md, err := c.PublisherMetadata("Microsoft-Windows-Winlogon")
	if !errors.Is(err, ErrReleaseFailed) {
		t.Fatalf("PublisherMetadata() error = %v, want release failed", err)
	}
	if md == nil || len(md.Levels) != 2 {
		t.Errorf("partial result lost: %+v", md)
	}
	if api.Live() != 0 {
		t.Errorf("%d handles still open", api.Live())
	}
}

func TestDecodeFieldHandleReleasedOnce(t *testing.T) {
	api := fakeevtapi.New()
	api.Publishers["Microsoft-Windows-Winlogon"] = winlogon()
	c := newTestClient(api)

	m, err := c.OpenPublisherMetadata("Microsoft-Windows-Winlogon")
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	v, err := m.Field(FieldKeywords)
	if err != nil {
		t.Fatal(err)
	}
	h, ok := v.(*EvtHandle)
	if !ok {
		t.Fatalf("Field(Keywords) = %#v, want a handle", v)
	}
	raw := h.Handle()
	if api.LiveOf(fakeevtapi.KindObjectArray) != 1 {
		t.Fatal("object array handle not live")
	}
	for range 2 {
		if err := ReleaseVariant(v); err != nil {
			t.Fatalf("ReleaseVariant() error = %v", err)
		}
	}
	if n := api.CloseCalls(raw); n != 1 {
		t.Errorf("EvtClose called %d times for the variant handle, want 1", n)
	}
}

func TestLookupField(t *testing.T) {
	tests := []struct {
		name string
		want PropertyField
		ok   bool
	}{
		{"guid", FieldPublisherGUID, true},
		{"Message File Path", FieldMessageFilePath, true},
		{"KEYWORDS", FieldKeywords, true},
		{"Level Name", PropertyField{}, false},
		{"", PropertyField{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LookupField(tt.name)
			if ok != tt.ok || got != tt.want {
				t.Errorf("LookupField(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.ok)
			}
		})
	}
}
