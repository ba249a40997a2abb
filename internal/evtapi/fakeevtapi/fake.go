// Package fakeevtapi is an in-memory evtapi.API used by tests. It follows the
// wevtapi contracts closely enough to exercise buffer growth, handle
// ownership and variant decoding: sizes are reported on too-small calls,
// every open returns a fresh handle, and every close is counted.
package fakeevtapi

import (
	"slices"
	"sync"
	"syscall"
	"unicode/utf16"

	"wevt_dumper/internal/evtapi"
)

// Kind tells what a fake handle refers to.
type Kind int

const (
	KindChannelEnum Kind = iota + 1
	KindPublisherEnum
	KindQuery
	KindEvent
	KindRenderContext
	KindPublisherMetadata
	KindObjectArray
)

// Event is one record in a channel.
type Event struct {
	XML    string
	Values []Value

	// RenderError is returned by RenderXML and RenderValues when set.
	RenderError syscall.Errno
}

// Publisher is the metadata of one provider.
type Publisher struct {
	Properties map[uint32]Value

	// Errors are returned instead of a property value.
	Errors map[uint32]syscall.Errno
}

// ObjectArray is the target of an EvtVarTypeEvtHandle publisher property
// (channels, levels, tasks, opcodes, keywords).
type ObjectArray struct {
	Items []map[uint32]Value
}

type object struct {
	kind      Kind
	cursor    int
	names     []string
	channel   string
	events    []*Event
	timeouts  int
	event     *Event
	publisher *Publisher
	array     *ObjectArray
}

// API is a fake evtapi.API. Configure the exported fields before use.
type API struct {
	// Channels is returned by the channel enumerator in this order.
	Channels []string
	// Logs holds the records of each channel.
	Logs map[string][]*Event
	// Publishers is keyed by publisher id; enumeration is sorted.
	Publishers map[string]*Publisher

	// ExtendedStatus is attached to every failure the fake injects, the way
	// the system API captures EvtGetExtendedStatus with a failed call.
	ExtendedStatus string
	// OpenErrors fails open calls. Keys: "channels", "publishers",
	// "context", "query:<path>", "metadata:<publisher>".
	OpenErrors map[string]syscall.Errno
	// NextErrors is returned by Next, per channel, once the records are drained.
	NextErrors map[string]syscall.Errno
	// Timeouts is the number of ERROR_TIMEOUT results a query reports before
	// serving records when a finite timeout is used.
	Timeouts map[string]int
	// BatchLimit caps the number of records per Next call when positive.
	BatchLimit int
	// CloseErrors fails EvtClose for handles of a kind. The handle is still
	// released.
	CloseErrors map[Kind]syscall.Errno

	mu         sync.Mutex
	nextHandle evtapi.Handle
	live       map[evtapi.Handle]*object
	opened     int
	closeCalls map[evtapi.Handle]int
	calls      map[string]int
}

// New returns an empty fake.
func New() *API {
	return &API{
		Logs:       make(map[string][]*Event),
		Publishers: make(map[string]*Publisher),
	}
}

var _ evtapi.API = (*API)(nil)

func (a *API) init() {
	if a.live == nil {
		a.live = make(map[evtapi.Handle]*object)
		a.closeCalls = make(map[evtapi.Handle]int)
		a.calls = make(map[string]int)
		a.nextHandle = 0x100
	}
}

// newHandle must be called with a.mu held.
func (a *API) newHandle(o *object) evtapi.Handle {
	a.init()
	a.nextHandle += 4
	a.live[a.nextHandle] = o
	a.opened++
	return a.nextHandle
}

// fail returns errno with the configured extended status, if any.
func (a *API) fail(errno syscall.Errno) error {
	if a.ExtendedStatus == "" {
		return errno
	}
	return &evtapi.StatusError{Errno: errno, Extended: a.ExtendedStatus}
}

func (a *API) open(key string, o *object) (evtapi.Handle, error) {
	if errno, ok := a.OpenErrors[key]; ok {
		return evtapi.InvalidHandle, a.fail(errno)
	}
	return a.newHandle(o), nil
}

func (a *API) lookup(h evtapi.Handle, kind Kind) (*object, error) {
	a.init()
	o, ok := a.live[h]
	if !ok || o.kind != kind {
		return nil, evtapi.ERROR_INVALID_HANDLE
	}
	return o, nil
}

func (a *API) count(op string) {
	a.init()
	a.calls[op]++
}

// fillString copies s plus a NUL terminator into buf, reporting the size in
// characters.
func fillString(s string, buf []uint16) (uint32, error) {
	u := append(utf16.Encode([]rune(s)), 0)
	if len(buf) < len(u) {
		return uint32(len(u)), evtapi.ERROR_INSUFFICIENT_BUFFER
	}
	copy(buf, u)
	return uint32(len(u)), nil
}

func (a *API) nextName(h evtapi.Handle, kind Kind, buf []uint16) (uint32, error) {
	o, err := a.lookup(h, kind)
	if err != nil {
		return 0, err
	}
	if o.cursor >= len(o.names) {
		return 0, evtapi.ERROR_NO_MORE_ITEMS
	}
	used, err := fillString(o.names[o.cursor], buf)
	if err == nil {
		o.cursor++
	}
	return used, err
}

func (a *API) OpenChannelEnum() (evtapi.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("OpenChannelEnum")
	return a.open("channels", &object{kind: KindChannelEnum, names: slices.Clone(a.Channels)})
}

func (a *API) NextChannelPath(enum evtapi.Handle, buf []uint16) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("NextChannelPath")
	return a.nextName(enum, KindChannelEnum, buf)
}

func (a *API) OpenPublisherEnum() (evtapi.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("OpenPublisherEnum")
	names := make([]string, 0, len(a.Publishers))
	for name := range a.Publishers {
		names = append(names, name)
	}
	slices.Sort(names)
	return a.open("publishers", &object{kind: KindPublisherEnum, names: names})
}

func (a *API) NextPublisherID(enum evtapi.Handle, buf []uint16) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("NextPublisherID")
	return a.nextName(enum, KindPublisherEnum, buf)
}

func (a *API) Query(path, filter string, flags uint32) (evtapi.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("Query")
	if errno, ok := a.OpenErrors["query:"+path]; ok {
		return evtapi.InvalidHandle, a.fail(errno)
	}
	events, ok := a.Logs[path]
	if !ok {
		return evtapi.InvalidHandle, a.fail(evtapi.ERROR_EVT_CHANNEL_NOT_FOUND)
	}
	return a.newHandle(&object{
		kind:     KindQuery,
		channel:  path,
		events:   slices.Clone(events),
		timeouts: a.Timeouts[path],
	}), nil
}

func (a *API) Next(query evtapi.Handle, events []evtapi.Handle, timeout uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("Next")
	o, err := a.lookup(query, KindQuery)
	if err != nil {
		return 0, err
	}
	if timeout != evtapi.INFINITE && o.timeouts > 0 {
		o.timeouts--
		return 0, evtapi.ERROR_TIMEOUT
	}
	if o.cursor >= len(o.events) {
		if errno, ok := a.NextErrors[o.channel]; ok {
			return 0, a.fail(errno)
		}
		return 0, evtapi.ERROR_NO_MORE_ITEMS
	}
	n := min(len(events), len(o.events)-o.cursor)
	if a.BatchLimit > 0 {
		n = min(n, a.BatchLimit)
	}
	for i := 0; i < n; i++ {
		events[i] = a.newHandle(&object{kind: KindEvent, event: o.events[o.cursor+i]})
	}
	o.cursor += n
	return uint32(n), nil
}

func (a *API) RenderXML(event evtapi.Handle, buf []uint16) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("RenderXML")
	o, err := a.lookup(event, KindEvent)
	if err != nil {
		return 0, err
	}
	if o.event.RenderError != 0 {
		return 0, a.fail(o.event.RenderError)
	}
	return fillString(o.event.XML, buf)
}

func (a *API) CreateRenderContext(valuePaths []string, flags uint32) (evtapi.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("CreateRenderContext")
	return a.open("context", &object{kind: KindRenderContext})
}

func (a *API) RenderValues(context, event evtapi.Handle, buf []byte) (uint32, uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("RenderValues")
	if _, err := a.lookup(context, KindRenderContext); err != nil {
		return 0, 0, err
	}
	o, err := a.lookup(event, KindEvent)
	if err != nil {
		return 0, 0, err
	}
	if o.event.RenderError != 0 {
		return 0, 0, a.fail(o.event.RenderError)
	}
	used, ok, err := encodeInto(buf, o.event.Values, a.arrayHandle)
	if err != nil {
		return 0, 0, evtapi.ERROR_INVALID_PARAMETER
	}
	if !ok {
		return uint32(used), 0, evtapi.ERROR_INSUFFICIENT_BUFFER
	}
	return uint32(used), uint32(len(o.event.Values)), nil
}

func (a *API) OpenPublisherMetadata(publisher string, locale uint32) (evtapi.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("OpenPublisherMetadata")
	if errno, ok := a.OpenErrors["metadata:"+publisher]; ok {
		return evtapi.InvalidHandle, a.fail(errno)
	}
	p, ok := a.Publishers[publisher]
	if !ok {
		return evtapi.InvalidHandle, a.fail(evtapi.ERROR_EVT_PUBLISHER_METADATA_NOT_FOUND)
	}
	return a.newHandle(&object{kind: KindPublisherMetadata, publisher: p}), nil
}

// arrayHandle must be called with a.mu held.
func (a *API) arrayHandle(arr *ObjectArray) evtapi.Handle {
	return a.newHandle(&object{kind: KindObjectArray, array: arr})
}

func (a *API) property(props map[uint32]Value, id uint32, buf []byte) (uint32, error) {
	v, ok := props[id]
	if !ok {
		v = Null()
	}
	used, fits, err := encodeInto(buf, []Value{v}, a.arrayHandle)
	if err != nil {
		return 0, evtapi.ERROR_INVALID_PARAMETER
	}
	if !fits {
		return uint32(used), evtapi.ERROR_INSUFFICIENT_BUFFER
	}
	return uint32(used), nil
}

func (a *API) GetPublisherMetadataProperty(metadata evtapi.Handle, propertyID uint32, buf []byte) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("GetPublisherMetadataProperty")
	o, err := a.lookup(metadata, KindPublisherMetadata)
	if err != nil {
		return 0, err
	}
	if errno, ok := o.publisher.Errors[propertyID]; ok {
		return 0, a.fail(errno)
	}
	return a.property(o.publisher.Properties, propertyID, buf)
}

func (a *API) GetObjectArraySize(array evtapi.Handle) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("GetObjectArraySize")
	o, err := a.lookup(array, KindObjectArray)
	if err != nil {
		return 0, err
	}
	return uint32(len(o.array.Items)), nil
}

func (a *API) GetObjectArrayProperty(array evtapi.Handle, propertyID, index uint32, buf []byte) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("GetObjectArrayProperty")
	o, err := a.lookup(array, KindObjectArray)
	if err != nil {
		return 0, err
	}
	if int(index) >= len(o.array.Items) {
		return 0, evtapi.ERROR_INVALID_PARAMETER
	}
	return a.property(o.array.Items[index], propertyID, buf)
}

func (a *API) Close(h evtapi.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("Close")
	a.closeCalls[h]++
	o, ok := a.live[h]
	if !ok {
		return evtapi.ERROR_INVALID_HANDLE
	}
	delete(a.live, h)
	if errno, ok := a.CloseErrors[o.kind]; ok {
		return a.fail(errno)
	}
	return nil
}

// Opened returns the number of handles handed out so far.
func (a *API) Opened() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opened
}

// Live returns the number of handles not yet closed.
func (a *API) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// LiveOf returns the number of open handles of one kind.
func (a *API) LiveOf(kind Kind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, o := range a.live {
		if o.kind == kind {
			n++
		}
	}
	return n
}

// CloseCalls returns how many times Close was called for h.
func (a *API) CloseCalls(h evtapi.Handle) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.init()
	return a.closeCalls[h]
}

// MaxCloseCalls returns the highest Close count seen for any single handle.
func (a *API) MaxCloseCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	highest := 0
	for _, n := range a.closeCalls {
		highest = max(highest, n)
	}
	return highest
}

// Calls returns how many times the named API method ran.
func (a *API) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.init()
	return a.calls[op]
}
