package wevt

import (
	"errors"
	"io"
	"testing"
	"unicode/utf16"

	"wevt_dumper/internal/evtapi"
	"wevt_dumper/internal/evtapi/fakeevtapi"
)

// scriptedFill reports ERROR_INSUFFICIENT_BUFFER with each of sizes in turn
// while the buffer is smaller, then fills the buffer.
func scriptedFill(sizes []int, calls *int) func([]byte) (uint32, error) {
	return func(buf []byte) (uint32, error) {
		*calls++
		for _, size := range sizes {
			if len(buf) < size {
				return uint32(size), evtapi.ERROR_INSUFFICIENT_BUFFER
			}
		}
		last := sizes[len(sizes)-1]
		for i := range last {
			buf[i] = byte(i)
		}
		return uint32(last), nil
	}
}

func failOnStatus(op string, err error) error {
	errno, _ := evtapi.AsErrno(err)
	return &Error{Kind: KindGenericOS, Op: op, Code: uint32(errno), Err: err}
}

func TestFetchGrowsToReportedSize(t *testing.T) {
	tests := []struct {
		name    string
		initial int
		sizes   []int
		calls   int
	}{
		{"fits", 64, []int{16}, 1},
		{"one grow", 8, []int{100}, 2},
		{"increasing sizes", 1, []int{10, 20, 40, 80}, 5},
		{"empty buffer", 0, []int{32}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(fakeevtapi.New())
			b := NewBuffer[byte]("test", tt.initial)
			calls := 0
			got, err := fetch(c, b, "fill", scriptedFill(tt.sizes, &calls), failOnStatus)
			if err != nil {
				t.Fatalf("fetch() error = %v", err)
			}
			last := tt.sizes[len(tt.sizes)-1]
			if len(got) != last {
				t.Errorf("len(result) = %d, want %d", len(got), last)
			}
			if b.Cap() < last {
				t.Errorf("Cap() = %d, want >= %d", b.Cap(), last)
			}
			if calls != tt.calls {
				t.Errorf("fill called %d times, want %d", calls, tt.calls)
			}
			for i, v := range got {
				if v != byte(i) {
					t.Fatalf("result[%d] = %d, want %d", i, v, byte(i))
				}
			}
		})
	}
}

func TestFetchNeverShrinks(t *testing.T) {
	c := newTestClient(fakeevtapi.New())
	b := NewBuffer[byte]("test", 8)
	calls := 0
	if _, err := fetch(c, b, "fill", scriptedFill([]int{300}, &calls), failOnStatus); err != nil {
		t.Fatal(err)
	}
	if _, err := fetch(c, b, "fill", scriptedFill([]int{4}, &calls), failOnStatus); err != nil {
		t.Fatal(err)
	}
	if b.Cap() != 300 {
		t.Errorf("Cap() = %d after a smaller fetch, want 300", b.Cap())
	}
}

func TestFetchBufferLimit(t *testing.T) {
	tests := []struct {
		name  string
		opts  func(*Options)
		fill  func([]byte) (uint32, error)
		calls int
	}{
		{
			name: "size above limit",
			opts: func(o *Options) { o.MaxBufferSize = 1024 },
			fill: func([]byte) (uint32, error) { return 4096, evtapi.ERROR_INSUFFICIENT_BUFFER },
		},
		{
			name: "too many grows",
			opts: func(o *Options) { o.MaxGrowAttempts = 3 },
			fill: func(buf []byte) (uint32, error) {
				return uint32(len(buf) + 1), evtapi.ERROR_INSUFFICIENT_BUFFER
			},
		},
		{
			name: "no size reported",
			opts: func(o *Options) { o.MaxBufferSize = 1 << 12 },
			fill: func([]byte) (uint32, error) { return 0, evtapi.ERROR_INSUFFICIENT_BUFFER },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(fakeevtapi.New(), tt.opts)
			b := NewBuffer[byte]("test", 16)
			_, err := fetch(c, b, "fill", tt.fill, failOnStatus)
			if !errors.Is(err, ErrBufferLimitExceeded) {
				t.Fatalf("fetch() error = %v, want buffer limit exceeded", err)
			}
			if IsKind(err, KindInsufficientBuffer) {
				t.Error("insufficient buffer escaped fetch")
			}
		})
	}
}

func TestFetchLimitCountsUnits(t *testing.T) {
	c := newTestClient(fakeevtapi.New(), func(o *Options) { o.MaxBufferSize = 1000 })
	b := NewBuffer[uint16]("test", 0)
	// 600 characters are 1200 bytes.
	_, err := fetch(c, b, "fill", func([]uint16) (uint32, error) {
		return 600, evtapi.ERROR_INSUFFICIENT_BUFFER
	}, failOnStatus)
	if !errors.Is(err, ErrBufferLimitExceeded) {
		t.Fatalf("fetch() error = %v, want buffer limit exceeded", err)
	}
}

func TestFetchTerminalStatuses(t *testing.T) {
	c := newTestClient(fakeevtapi.New())

	b := NewBuffer[byte]("test", 16)
	_, err := fetch(c, b, "fill", func([]byte) (uint32, error) { return 0, evtapi.ERROR_NO_MORE_ITEMS }, failOnStatus)
	if err != io.EOF {
		t.Errorf("ERROR_NO_MORE_ITEMS gave %v, want io.EOF", err)
	}

	calls := 0
	_, err = fetch(c, b, "fill", func([]byte) (uint32, error) {
		calls++
		return 0, evtapi.ERROR_EVT_INVALID_QUERY
	}, c.classify)
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("error = %v, want invalid query", err)
	}
	if calls != 1 {
		t.Errorf("failure was retried: %d calls", calls)
	}

	_, err = fetch(c, b, "fill", func([]byte) (uint32, error) { return 99, nil }, failOnStatus)
	if !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("overlong success gave %v, want invalid encoding", err)
	}
}

func TestUTF16Text(t *testing.T) {
	enc := func(s string) []uint16 { return utf16.Encode([]rune(s)) }
	tests := []struct {
		name string
		in   []uint16
		want string
	}{
		{"empty", nil, ""},
		{"only terminator", []uint16{0}, ""},
		{"terminated", append(enc("Security"), 0), "Security"},
		{"unterminated", enc("Setup"), "Setup"},
		{"strips one terminator", append(enc("a"), 0, 0), "a\x00"},
		{"surrogate pair", append(enc("log 🪵"), 0), "log 🪵"},
		{"lone surrogate", []uint16{'a', 0xD800, 'b', 0}, "a�b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := utf16Text(tt.in); got != tt.want {
				t.Errorf("utf16Text() = %q, want %q", got, tt.want)
			}
		})
	}
}
