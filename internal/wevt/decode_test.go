package wevt

import (
	"errors"
	"math"
	"testing"
	"time"
	"unsafe"

	"wevt_dumper/internal/evtapi"
	"wevt_dumper/internal/evtapi/fakeevtapi"
)

// encode lays values out the way wevtapi does and returns the filled region.
func encode(t *testing.T, values ...fakeevtapi.Value) []byte {
	t.Helper()
	buf := make([]byte, 8192)
	n, ok, err := fakeevtapi.Encode(buf, values...)
	if err != nil || !ok {
		t.Fatalf("Encode() = %d, %v, %v", n, ok, err)
	}
	return buf[:n]
}

var testGUID = evtapi.GUID{
	Data1: 0x54849625,
	Data2: 0x5478,
	Data3: 0x4994,
	Data4: [8]byte{0xa5, 0xba, 0x3e, 0x3b, 0x03, 0x28, 0xc3, 0x0d},
}

func TestDecodeScalars(t *testing.T) {
	ft := time.Date(2024, 3, 9, 17, 4, 5, 123456700, time.UTC)
	ticks := uint64(ft.UnixNano()/100) + unixEpochFiletime

	tests := []struct {
		name  string
		value fakeevtapi.Value
		want  Variant
	}{
		{"null", fakeevtapi.Null(), Null{}},
		{"uint32", fakeevtapi.UInt32(42), Uint32(42)},
		{"uint16", fakeevtapi.UInt16(65535), Uint16(65535)},
		{"uint64", fakeevtapi.UInt64(math.MaxUint64), Uint64(math.MaxUint64)},
		{"int8", fakeevtapi.Value{Type: evtapi.EvtVarTypeSByte, Data: int8(-5)}, Int8(-5)},
		{"byte", fakeevtapi.Value{Type: evtapi.EvtVarTypeByte, Data: uint8(4)}, Uint8(4)},
		{"int16", fakeevtapi.Value{Type: evtapi.EvtVarTypeInt16, Data: int16(-300)}, Int16(-300)},
		{"int32", fakeevtapi.Value{Type: evtapi.EvtVarTypeInt32, Data: int32(-70000)}, Int32(-70000)},
		{"int64", fakeevtapi.Value{Type: evtapi.EvtVarTypeInt64, Data: int64(math.MinInt64)}, Int64(math.MinInt64)},
		{"float32", fakeevtapi.Value{Type: evtapi.EvtVarTypeSingle, Data: float32(1.5)}, Float32(1.5)},
		{"float64", fakeevtapi.Value{Type: evtapi.EvtVarTypeDouble, Data: math.Pi}, Float64(math.Pi)},
		{"bool true", fakeevtapi.Bool(true), Bool(true)},
		{"bool false", fakeevtapi.Bool(false), Bool(false)},
		{"hexint32", fakeevtapi.Value{Type: evtapi.EvtVarTypeHexInt32, Data: uint32(0xC0000022)}, HexInt32(0xC0000022)},
		{"hexint64", fakeevtapi.Value{Type: evtapi.EvtVarTypeHexInt64, Data: uint64(0x8000000000000000)}, HexInt64(0x8000000000000000)},
		{"sizet", fakeevtapi.Value{Type: evtapi.EvtVarTypeSizeT, Data: uint64(4096)}, SizeT(4096)},
		{"string", fakeevtapi.String("Microsoft-Windows-Security-Auditing"), String("Microsoft-Windows-Security-Auditing")},
		{"empty string", fakeevtapi.String(""), String("")},
		{"unicode string", fakeevtapi.String("Ereignisanzeige ✓ 🪵"), String("Ereignisanzeige ✓ 🪵")},
		{"xml", fakeevtapi.Value{Type: evtapi.EvtVarTypeEvtXml, Data: "<Data/>"}, XML("<Data/>")},
		{"ansi windows-1252", fakeevtapi.AnsiString("caf\xe9 \x80"), AnsiString("café €")},
		{"guid", fakeevtapi.GUID(testGUID), GUID(testGUID)},
		{"filetime", fakeevtapi.FileTime(ticks), FileTime{ft}},
		{"systime", fakeevtapi.Value{Type: evtapi.EvtVarTypeSysTime, Data: evtapi.SYSTEMTIME{
			Year: 2023, Month: 12, DayOfWeek: 0, Day: 31, Hour: 23, Minute: 59, Second: 58, Milliseconds: 999,
		}}, SysTime{time.Date(2023, 12, 31, 23, 59, 58, 999*int(time.Millisecond), time.UTC)}},
		{"sid", fakeevtapi.SID([]byte{1, 1, 0, 0, 0, 0, 0, 5, 18, 0, 0, 0}), SID("S-1-5-18")},
		{"sid with domain", fakeevtapi.SID([]byte{
			1, 5, 0, 0, 0, 0, 0, 5,
			21, 0, 0, 0, 0x39, 0x30, 0, 0, 0x3a, 0x30, 0, 0, 0x3b, 0x30, 0, 0, 0xf4, 0x01, 0, 0,
		}), SID("S-1-5-21-12345-12346-12347-500")},
	}

	c := newTestClient(fakeevtapi.New())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decoder().Decode(encode(t, tt.value))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			switch want := tt.want.(type) {
			case FileTime:
				if g, ok := got.(FileTime); !ok || !g.Equal(want.Time) {
					t.Errorf("Decode() = %v, want %v", got, want)
				}
			case SysTime:
				if g, ok := got.(SysTime); !ok || !g.Equal(want.Time) {
					t.Errorf("Decode() = %v, want %v", got, want)
				}
			default:
				if got != tt.want {
					t.Errorf("Decode() = %#v, want %#v", got, tt.want)
				}
			}
		})
	}
}

func TestGUIDString(t *testing.T) {
	g := GUID(testGUID)
	const want = "54849625-5478-4994-A5BA-3E3B0328C30D"
	if got := g.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	parsed, err := ParseGUID("{54849625-5478-4994-a5ba-3e3b0328c30d}")
	if err != nil {
		t.Fatal(err)
	}
	if parsed != g {
		t.Errorf("ParseGUID() = %v, want %v", parsed, g)
	}
	if _, err := ParseGUID("not-a-guid"); err == nil {
		t.Error("ParseGUID accepted garbage")
	}
}

func TestDecodeBinary(t *testing.T) {
	c := newTestClient(fakeevtapi.New())
	buf := encode(t, fakeevtapi.Binary([]byte{0xde, 0xad, 0xbe, 0xef}))
	got, err := c.Decoder().Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	b, ok := got.(Binary)
	if !ok || string(b) != "\xde\xad\xbe\xef" {
		t.Fatalf("Decode() = %#v", got)
	}
	// The result must not alias the scratch buffer.
	clear(buf)
	if b[0] != 0xde {
		t.Error("Binary aliases the decode buffer")
	}
}

func TestDecodeArrays(t *testing.T) {
	g2 := testGUID
	g2.Data1 = 1
	tests := []struct {
		name  string
		value fakeevtapi.Value
		want  Array
	}{
		{"uint16", fakeevtapi.Array(evtapi.EvtVarTypeUInt16, uint16(1), uint16(2), uint16(3)),
			Array{Uint16(1), Uint16(2), Uint16(3)}},
		{"strings", fakeevtapi.Array(evtapi.EvtVarTypeString, "Application", "Security", "System"),
			Array{String("Application"), String("Security"), String("System")}},
		{"guids", fakeevtapi.Array(evtapi.EvtVarTypeGuid, testGUID, g2),
			Array{GUID(testGUID), GUID(g2)}},
		{"empty", fakeevtapi.Array(evtapi.EvtVarTypeUInt32), Array{}},
	}

	c := newTestClient(fakeevtapi.New())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decoder().Decode(encode(t, tt.value))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			arr, ok := got.(Array)
			if !ok || len(arr) != len(tt.want) {
				t.Fatalf("Decode() = %#v, want %#v", got, tt.want)
			}
			for i := range arr {
				if arr[i] != tt.want[i] {
					t.Errorf("element %d = %#v, want %#v", i, arr[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecodeUnknownTypeIsNil(t *testing.T) {
	c := newTestClient(fakeevtapi.New())
	buf := encode(t, fakeevtapi.UInt32(7))
	le.PutUint32(buf[evtapi.VariantTypeOffset:], 0x42)

	got, err := c.Decoder().Decode(buf)
	if err != nil || got != nil {
		t.Errorf("Decode(unknown) = %v, %v; want nil, nil", got, err)
	}
}

func TestDecodeInvalidEncoding(t *testing.T) {
	c := newTestClient(fakeevtapi.New())
	d := c.Decoder()

	putPtr := func(buf []byte, at int, p uint64) {
		if evtapi.PtrSize == 8 {
			le.PutUint64(buf[at:], p)
		} else {
			le.PutUint32(buf[at:], uint32(p))
		}
	}

	tests := []struct {
		name  string
		build func(t *testing.T) []byte
	}{
		{"short buffer", func(*testing.T) []byte { return make([]byte, 8) }},
		{"pointer outside buffer", func(t *testing.T) []byte {
			buf := encode(t, fakeevtapi.String("System"))
			putPtr(buf, 0, uint64(uintptr(unsafe.Pointer(&buf[0])))+1<<20)
			return buf
		}},
		{"pointer before buffer", func(t *testing.T) []byte {
			buf := encode(t, fakeevtapi.String("System"))
			putPtr(buf, 0, uint64(uintptr(unsafe.Pointer(&buf[0])))-64)
			return buf
		}},
		{"unterminated string", func(t *testing.T) []byte {
			buf := encode(t, fakeevtapi.String("System"))
			return buf[:len(buf)-2]
		}},
		{"array count too large", func(t *testing.T) []byte {
			buf := encode(t, fakeevtapi.Array(evtapi.EvtVarTypeUInt32, uint32(1)))
			le.PutUint32(buf[evtapi.VariantCountOffset:], 1<<30)
			return buf
		}},
		{"binary longer than buffer", func(t *testing.T) []byte {
			buf := encode(t, fakeevtapi.Binary([]byte{1, 2, 3}))
			le.PutUint32(buf[evtapi.VariantCountOffset:], 4096)
			return buf
		}},
		{"truncated sid", func(t *testing.T) []byte {
			return encode(t, fakeevtapi.SID([]byte{1, 4, 0, 0, 0, 0, 0, 5}))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Decode(tt.build(t)); !errors.Is(err, ErrInvalidEncoding) {
				t.Errorf("Decode() error = %v, want invalid encoding", err)
			}
		})
	}
}

func TestDecodeAllChecksCount(t *testing.T) {
	d := newTestClient(fakeevtapi.New()).Decoder()
	buf := encode(t, fakeevtapi.UInt32(7), fakeevtapi.String("System"))

	tests := []struct {
		name    string
		count   int
		want    int
		wantErr bool
	}{
		{"negative", -1, 0, true},
		{"more than the buffer holds", len(buf)/evtapi.VariantSize + 1, 0, true},
		{"huge", math.MaxInt, 0, true},
		{"none", 0, 0, false},
		{"all", 2, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.DecodeAll(buf, tt.count)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEncoding) {
					t.Errorf("DecodeAll(%d) error = %v, want invalid encoding", tt.count, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeAll(%d) error = %v", tt.count, err)
			}
			if len(got) != tt.want {
				t.Errorf("DecodeAll(%d) = %d values, want %d", tt.count, len(got), tt.want)
			}
		})
	}
}

func TestDecodeAllReleasesOnFailure(t *testing.T) {
	api := fakeevtapi.New()
	api.Publishers["P"] = &fakeevtapi.Publisher{Properties: map[uint32]fakeevtapi.Value{
		evtapi.EvtPublisherMetadataLevels: fakeevtapi.Handle(&fakeevtapi.ObjectArray{}),
	}}
	c := newTestClient(api)

	m, err := c.OpenPublisherMetadata("P")
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	// Take a real handle variant from the service, then follow it with a
	// string variant whose pointer is bogus.
	b, err := fetch(c, m.buf, "levels", func(p []byte) (uint32, error) {
		return api.GetPublisherMetadataProperty(m.h.Handle(), evtapi.EvtPublisherMetadataLevels, p)
	}, c.classify)
	if err != nil {
		t.Fatal(err)
	}
	raw := make([]byte, 2*evtapi.VariantSize)
	copy(raw, b[:evtapi.VariantSize])
	le.PutUint32(raw[evtapi.VariantSize:], 1)
	le.PutUint32(raw[evtapi.VariantSize+evtapi.VariantTypeOffset:], evtapi.EvtVarTypeString)

	if _, err := c.Decoder().DecodeAll(raw, 2); !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("DecodeAll() error = %v, want invalid encoding", err)
	}
	if n := api.LiveOf(fakeevtapi.KindObjectArray); n != 0 {
		t.Errorf("%d object array handles leaked by a failed decode", n)
	}
}
