package bleerror

import (
	"errors"
	"fmt"
	"strings"
)

// Error is the only error type returned across the engine boundary.
// Context fields are optional and filled with whatever the failing call knew.
type Error struct {
	Kind               Kind
	Reason             string
	DeviceID           string
	ServiceUUID        string
	CharacteristicUUID string
	DescriptorUUID     string
	ATTErrorCode       *int // native ATT/GATT status when the stack reported one
	Err                error
}

// New creates an Error of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf creates an Error of the given kind with a formatted reason.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}

	var ctx []string
	if e.DeviceID != "" {
		ctx = append(ctx, "device="+e.DeviceID)
	}
	if e.ServiceUUID != "" {
		ctx = append(ctx, "service="+e.ServiceUUID)
	}
	if e.CharacteristicUUID != "" {
		ctx = append(ctx, "characteristic="+e.CharacteristicUUID)
	}
	if e.DescriptorUUID != "" {
		ctx = append(ctx, "descriptor="+e.DescriptorUUID)
	}
	if e.ATTErrorCode != nil {
		ctx = append(ctx, fmt.Sprintf("att_status=0x%02x", *e.ATTErrorCode))
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// clone returns a shallow copy so the With* helpers never mutate shared values.
func (e *Error) clone() *Error {
	c := *e
	return &c
}

// WithDevice returns a copy of e carrying the device id.
func (e *Error) WithDevice(deviceID string) *Error {
	c := e.clone()
	c.DeviceID = deviceID
	return c
}

// WithService returns a copy of e carrying the service UUID.
func (e *Error) WithService(uuid string) *Error {
	c := e.clone()
	c.ServiceUUID = uuid
	return c
}

// WithCharacteristic returns a copy of e carrying the characteristic UUID.
func (e *Error) WithCharacteristic(uuid string) *Error {
	c := e.clone()
	c.CharacteristicUUID = uuid
	return c
}

// WithDescriptor returns a copy of e carrying the descriptor UUID.
func (e *Error) WithDescriptor(uuid string) *Error {
	c := e.clone()
	c.DescriptorUUID = uuid
	return c
}

// WithCause returns a copy of e wrapping err.
func (e *Error) WithCause(err error) *Error {
	c := e.clone()
	c.Err = err
	return c
}

// Sentinels for errors.Is comparisons. Only Kind is compared.
var (
	ErrManagerDestroyed       = &Error{Kind: BluetoothManagerDestroyed}
	ErrOperationCancelled     = &Error{Kind: OperationCancelled}
	ErrOperationTimedOut      = &Error{Kind: OperationTimedOut}
	ErrInvalidIdentifiers     = &Error{Kind: InvalidIdentifiers}
	ErrDeviceNotConnected     = &Error{Kind: DeviceNotConnected}
	ErrDeviceAlreadyConnected = &Error{Kind: DeviceAlreadyConnected}
	ErrServicesNotDiscovered  = &Error{Kind: ServicesNotDiscovered}
)

// KindOf returns the Kind of err, or UnknownError when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownError
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
