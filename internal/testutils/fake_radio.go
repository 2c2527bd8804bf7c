package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/gatt"
)

// Operation names recorded by FakeLink and accepted by FakePeripheral.Fail.
const (
	OpConnect         = "connect"
	OpDiscover        = "discover"
	OpRefresh         = "refresh"
	OpRead            = "read"
	OpWrite           = "write"
	OpReadDescriptor  = "read_descriptor"
	OpWriteDescriptor = "write_descriptor"
	OpSubscribe       = "subscribe"
	OpUnsubscribe     = "unsubscribe"
	OpRSSI            = "rssi"
	OpMTU             = "mtu"
	OpPriority        = "priority"
)

// Call is one native call observed by a FakeLink.
type Call struct {
	Op     string
	Handle uint16
	Data   []byte
	Flag   bool
}

// FakePeripheral is an in-memory GATT server.
type FakePeripheral struct {
	Address       string
	Advertisement native.Advertisement

	mu        sync.Mutex
	services  []*native.RemoteService
	values    map[uint16][]byte
	failures  map[string]error
	readDelay time.Duration
	maxMTU    int
	rssi      int
	link      *FakeLink
	calls     []Call
	gate      chan struct{}
}

func newFakePeripheral(address string, adv native.Advertisement) *FakePeripheral {
	return &FakePeripheral{
		Address:       address,
		Advertisement: adv,
		values:        make(map[uint16][]byte),
		failures:      make(map[string]error),
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (p *FakePeripheral) Fail(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// FailWith is Fail with a NativeFailure of the given source and condition.
func (p *FakePeripheral) FailWith(op string, source bleerror.Source, cond bleerror.Condition) {
	p.Fail(op, &bleerror.NativeFailure{
		Source:    source,
		Condition: cond,
		DeviceID:  p.Address,
		Err:       fmt.Errorf("simulated %s failure", op),
	})
}

// Hold blocks GATT reads and writes until the returned release is called.
func (p *FakePeripheral) Hold() (release func()) {
	p.mu.Lock()
	gate := make(chan struct{})
	p.gate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.gate == gate {
				p.gate = nil
			}
			p.mu.Unlock()
			close(gate)
		})
	}
}

// Value returns the stored value of the attribute at handle.
func (p *FakePeripheral) Value(handle uint16) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.values[handle]...)
}

// ValueOf returns the stored value of the characteristic with uuid.
func (p *FakePeripheral) ValueOf(charUUID string) []byte {
	if ch := p.Characteristic(charUUID); ch != nil {
		return p.Value(ch.ValueHandle)
	}
	return nil
}

// Characteristic returns the first characteristic with uuid.
func (p *FakePeripheral) Characteristic(uuid string) *native.RemoteCharacteristic {
	for _, s := range p.services {
		for _, c := range s.Characteristics {
			if c.UUID == uuid {
				return c
			}
		}
	}
	return nil
}

// Calls returns the native calls made so far, in order.
func (p *FakePeripheral) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsOf returns the calls of one kind.
func (p *FakePeripheral) CallsOf(op string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Link returns the current link, nil when not connected.
func (p *FakePeripheral) Link() *FakeLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link
}

// Notify pushes a value to the subscriber of charUUID. It reports whether a
// subscription was active.
func (p *FakePeripheral) Notify(charUUID string, data []byte) bool {
	link := p.Link()
	ch := p.Characteristic(charUUID)
	if link == nil || ch == nil {
		return false
	}
	return link.push(ch.ValueHandle, data)
}

// Drop simulates the peripheral going out of range.
func (p *FakePeripheral) Drop() {
	if link := p.Link(); link != nil {
		link.markDown()
	}
}

func (p *FakePeripheral) record(c Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
	return p.failures[c.Op]
}

// wait applies the configured delay and hold gate.
func (p *FakePeripheral) wait(ctx context.Context, done <-chan struct{}) error {
	p.mu.Lock()
	delay, gate := p.readDelay, p.gate
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return disconnected(p.Address)
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return disconnected(p.Address)
		}
	}
	return nil
}

func disconnected(address string) error {
	return &bleerror.NativeFailure{
		Source:    bleerror.SourceDisconnect,
		Condition: bleerror.ConditionDisconnected,
		DeviceID:  address,
		Err:       fmt.Errorf("device disconnected"),
	}
}

// FakeRadio is an in-memory native.Radio serving FakePeripherals.
type FakeRadio struct {
	mu          sync.Mutex
	state       gatt.AdapterState
	onState     func(gatt.AdapterState)
	peripherals map[string]*FakePeripheral
	order       []string
	scanErr     error
	powerErr    error
	connectGate chan struct{}
	connecting  int
	scans       int
	scanParams  []native.ScanParams
	closed      bool
}

var _ native.Radio = (*FakeRadio)(nil)

// NewFakeRadio creates a powered on radio serving peripherals.
func NewFakeRadio(peripherals ...*FakePeripheral) *FakeRadio {
	r := &FakeRadio{
		state:       gatt.AdapterPoweredOn,
		peripherals: make(map[string]*FakePeripheral),
	}
	for _, p := range peripherals {
		r.Add(p)
	}
	return r
}

// Add makes p scannable and connectable.
func (r *FakeRadio) Add(p *FakePeripheral) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peripherals[p.Address]; !ok {
		r.order = append(r.order, p.Address)
	}
	r.peripherals[p.Address] = p
}

// Peripheral returns the peripheral at address.
func (r *FakeRadio) Peripheral(address string) *FakePeripheral {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peripherals[address]
}

// SetState changes the adapter state and notifies the registered handler.
// Links still up afterwards are dropped when the radio leaves PoweredOn.
func (r *FakeRadio) SetState(s gatt.AdapterState) {
	r.mu.Lock()
	r.state = s
	fn := r.onState
	r.mu.Unlock()
	if fn != nil {
		fn(s)
	}
	if s != gatt.AdapterPoweredOn {
		for _, p := range r.all() {
			p.Drop()
		}
	}
}

// FailScan makes later scans fail with err.
func (r *FakeRadio) FailScan(err error) {
	r.mu.Lock()
	r.scanErr = err
	r.mu.Unlock()
}

// FailPower makes SetPower fail with err.
func (r *FakeRadio) FailPower(err error) {
	r.mu.Lock()
	r.powerErr = err
	r.mu.Unlock()
}

// HoldConnect blocks Connect until the returned release is called.
func (r *FakeRadio) HoldConnect() (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.connectGate = gate
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if r.connectGate == gate {
				r.connectGate = nil
			}
			r.mu.Unlock()
			close(gate)
		})
	}
}

// Scans returns how many scans were started.
func (r *FakeRadio) Scans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans
}

// LastScanParams returns the parameters of the latest scan.
func (r *FakeRadio) LastScanParams() native.ScanParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.scanParams) == 0 {
		return native.ScanParams{}
	}
	return r.scanParams[len(r.scanParams)-1]
}

func (r *FakeRadio) all() []*FakePeripheral {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*FakePeripheral, 0, len(r.order))
	for _, a := range r.order {
		out = append(out, r.peripherals[a])
	}
	return out
}

func (r *FakeRadio) State() gatt.AdapterState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *FakeRadio) OnStateChange(fn func(gatt.AdapterState)) {
	r.mu.Lock()
	r.onState = fn
	r.mu.Unlock()
}

func (r *FakeRadio) SetPower(_ context.Context, on bool) error {
	r.mu.Lock()
	err := r.powerErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if on {
		r.SetState(gatt.AdapterPoweredOn)
	} else {
		r.SetState(gatt.AdapterPoweredOff)
	}
	return nil
}

// Scan reports every peripheral once, then blocks until ctx ends.
func (r *FakeRadio) Scan(ctx context.Context, params native.ScanParams, handler func(native.Advertisement)) error {
	r.mu.Lock()
	r.scans++
	r.scanParams = append(r.scanParams, params)
	err := r.scanErr
	state := r.state
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if state != gatt.AdapterPoweredOn {
		return &bleerror.NativeFailure{
			Source:    bleerror.SourceScan,
			Condition: bleerror.ConditionPoweredOff,
			Err:       fmt.Errorf("central manager has invalid state: have=4 want=5"),
		}
	}

	for _, p := range r.all() {
		if ctx.Err() != nil {
			return nil
		}
		handler(p.Advertisement)
	}
	<-ctx.Done()
	return nil
}

func (r *FakeRadio) Connect(ctx context.Context, address string, _ native.LinkOptions) (native.Link, error) {
	r.mu.Lock()
	p := r.peripherals[address]
	gate := r.connectGate
	state := r.state
	r.connecting++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.connecting--
		r.mu.Unlock()
	}()

	if state != gatt.AdapterPoweredOn {
		return nil, &bleerror.NativeFailure{
			Source:    bleerror.SourceConnect,
			Condition: bleerror.ConditionPoweredOff,
			DeviceID:  address,
			Err:       fmt.Errorf("bluetooth is turned off"),
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p == nil {
		return nil, &bleerror.NativeFailure{
			Source:    bleerror.SourceConnect,
			Condition: bleerror.ConditionNotFound,
			DeviceID:  address,
			Err:       fmt.Errorf("no peripheral at %s", address),
		}
	}
	if err := p.record(Call{Op: OpConnect}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	link := &FakeLink{
		peripheral: p,
		done:       make(chan struct{}),
		subs:       make(map[uint16]func([]byte)),
	}
	p.mu.Lock()
	p.link = link
	p.mu.Unlock()
	return link, nil
}

func (r *FakeRadio) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Connecting returns how many Connect calls have not returned yet.
func (r *FakeRadio) Connecting() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connecting
}

// Closed reports whether Close was called.
func (r *FakeRadio) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// FakeLink is the native.Link of a FakePeripheral.
type FakeLink struct {
	peripheral *FakePeripheral

	mu   sync.Mutex
	subs map[uint16]func([]byte)

	done      chan struct{}
	closeOnce sync.Once
}

var _ native.Link = (*FakeLink)(nil)

func (l *FakeLink) markDown() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.subs = make(map[uint16]func([]byte))
		l.mu.Unlock()
		close(l.done)
	})
}

func (l *FakeLink) push(handle uint16, data []byte) bool {
	l.mu.Lock()
	h := l.subs[handle]
	l.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Subscribed reports whether a native subscription is active on charUUID.
func (l *FakeLink) Subscribed(charUUID string) bool {
	ch := l.peripheral.Characteristic(charUUID)
	if ch == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subs[ch.ValueHandle] != nil
}

func (l *FakeLink) down() error {
	select {
	case <-l.done:
		return disconnected(l.peripheral.Address)
	default:
		return nil
	}
}

func (l *FakeLink) begin(ctx context.Context, c Call, gated bool) error {
	if err := l.down(); err != nil {
		return err
	}
	if err := l.peripheral.record(c); err != nil {
		return err
	}
	if gated {
		return l.peripheral.wait(ctx, l.done)
	}
	return ctx.Err()
}

func (l *FakeLink) Address() string { return l.peripheral.Address }

func (l *FakeLink) Disconnected() <-chan struct{} { return l.done }

func (l *FakeLink) DiscoverProfile(ctx context.Context) ([]*native.RemoteService, error) {
	if err := l.begin(ctx, Call{Op: OpDiscover}, false); err != nil {
		return nil, err
	}
	return l.peripheral.services, nil
}

func (l *FakeLink) RefreshCache(ctx context.Context) error {
	return l.begin(ctx, Call{Op: OpRefresh}, false)
}

func (l *FakeLink) ReadCharacteristic(ctx context.Context, c *native.RemoteCharacteristic) ([]byte, error) {
	if err := l.begin(ctx, Call{Op: OpRead, Handle: c.ValueHandle}, true); err != nil {
		return nil, err
	}
	return l.peripheral.Value(c.ValueHandle), nil
}

func (l *FakeLink) WriteCharacteristic(ctx context.Context, c *native.RemoteCharacteristic, data []byte, withResponse bool) error {
	call := Call{Op: OpWrite, Handle: c.ValueHandle, Data: append([]byte(nil), data...), Flag: withResponse}
	if err := l.begin(ctx, call, true); err != nil {
		return err
	}
	l.peripheral.mu.Lock()
	l.peripheral.values[c.ValueHandle] = append([]byte(nil), data...)
	l.peripheral.mu.Unlock()
	return nil
}

func (l *FakeLink) ReadDescriptor(ctx context.Context, d *native.RemoteDescriptor) ([]byte, error) {
	if err := l.begin(ctx, Call{Op: OpReadDescriptor, Handle: d.Handle}, true); err != nil {
		return nil, err
	}
	return l.peripheral.Value(d.Handle), nil
}

func (l *FakeLink) WriteDescriptor(ctx context.Context, d *native.RemoteDescriptor, data []byte) error {
	call := Call{Op: OpWriteDescriptor, Handle: d.Handle, Data: append([]byte(nil), data...)}
	if err := l.begin(ctx, call, true); err != nil {
		return err
	}
	l.peripheral.mu.Lock()
	l.peripheral.values[d.Handle] = append([]byte(nil), data...)
	l.peripheral.mu.Unlock()
	return nil
}

func (l *FakeLink) Subscribe(ctx context.Context, c *native.RemoteCharacteristic, indicate bool, handler func([]byte)) error {
	if err := l.begin(ctx, Call{Op: OpSubscribe, Handle: c.ValueHandle, Flag: indicate}, false); err != nil {
		return err
	}
	l.mu.Lock()
	l.subs[c.ValueHandle] = handler
	l.mu.Unlock()
	return nil
}

func (l *FakeLink) Unsubscribe(ctx context.Context, c *native.RemoteCharacteristic, indicate bool) error {
	if err := l.begin(ctx, Call{Op: OpUnsubscribe, Handle: c.ValueHandle, Flag: indicate}, false); err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.subs, c.ValueHandle)
	l.mu.Unlock()
	return nil
}

func (l *FakeLink) ReadRSSI(ctx context.Context) (int, error) {
	if err := l.begin(ctx, Call{Op: OpRSSI}, false); err != nil {
		return 0, err
	}
	l.peripheral.mu.Lock()
	defer l.peripheral.mu.Unlock()
	return l.peripheral.rssi, nil
}

func (l *FakeLink) ExchangeMTU(ctx context.Context, mtu int) (int, error) {
	if err := l.begin(ctx, Call{Op: OpMTU, Data: []byte{byte(mtu >> 8), byte(mtu)}}, false); err != nil {
		return 0, err
	}
	l.peripheral.mu.Lock()
	defer l.peripheral.mu.Unlock()
	if limit := l.peripheral.maxMTU; limit > 0 && mtu > limit {
		return limit, nil
	}
	return mtu, nil
}

func (l *FakeLink) RequestConnectionPriority(ctx context.Context, p native.Priority) error {
	return l.begin(ctx, Call{Op: OpPriority, Data: []byte(p.String())}, false)
}

func (l *FakeLink) Disconnect() error {
	l.markDown()
	l.peripheral.mu.Lock()
	if l.peripheral.link == l {
		l.peripheral.link = nil
	}
	l.peripheral.mu.Unlock()
	return nil
}
