package goble

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/blecore/pkg/bleerror"
)

// ErrPowerControlUnsupported is returned by SetPower when asked to power the
// adapter off; go-ble has no API for it.
var ErrPowerControlUnsupported = errors.New("adapter power control is not supported by go-ble")

// CoreBluetooth reports "central manager has invalid state: have=4 want=5".
var managerStateRe = regexp.MustCompile(`have=(\d)`)

// classify maps known go-ble error messages onto a Condition. go-ble returns
// plain errors, so matching is by message and stays tolerant to wording changes.
func classify(err error) bleerror.Condition {
	if err == nil {
		return bleerror.ConditionNone
	}
	switch {
	case errors.Is(err, context.Canceled):
		return bleerror.ConditionCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return bleerror.ConditionTimeout
	}

	msg := strings.ToLower(err.Error())
	if m := managerStateRe.FindStringSubmatch(msg); m != nil {
		state, _ := strconv.Atoi(m[1])
		switch state {
		case 0:
			return bleerror.ConditionUnknownState
		case 1:
			return bleerror.ConditionResetting
		case 2:
			return bleerror.ConditionUnsupported
		case 3:
			return bleerror.ConditionUnauthorized
		case 4:
			return bleerror.ConditionPoweredOff
		}
	}

	switch {
	case strings.Contains(msg, "bluetooth is turned off"), strings.Contains(msg, "powered off"):
		return bleerror.ConditionPoweredOff
	case strings.Contains(msg, "unsupported on this platform"):
		return bleerror.ConditionUnsupported
	case strings.Contains(msg, "operation not permitted"), strings.Contains(msg, "permission denied"):
		return bleerror.ConditionUnauthorized
	case strings.Contains(msg, "device not connected"):
		return bleerror.ConditionNotConnected
	case strings.Contains(msg, "device already connected"):
		return bleerror.ConditionAlreadyConnected
	case strings.Contains(msg, "disconnected"):
		return bleerror.ConditionDisconnected
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return bleerror.ConditionTimeout
	case strings.Contains(msg, "no such device"), strings.Contains(msg, "not found"):
		return bleerror.ConditionNotFound
	default:
		return bleerror.ConditionNone
	}
}

// attStatus extracts the ATT error code carried by err, if any.
func attStatus(err error) *int {
	var attErr ble.ATTError
	if errors.As(err, &attErr) {
		code := int(attErr)
		return &code
	}
	return nil
}

// target names the attribute a failed call was aimed at.
type target struct {
	device         string
	service        string
	characteristic string
	descriptor     string
}

// fail builds the NativeFailure for err raised by a call of the given source.
func fail(source bleerror.Source, t target, err error) error {
	if err == nil {
		return nil
	}
	return &bleerror.NativeFailure{
		Source:             source,
		Condition:          classify(err),
		Status:             attStatus(err),
		DeviceID:           t.device,
		ServiceUUID:        t.service,
		CharacteristicUUID: t.characteristic,
		DescriptorUUID:     t.descriptor,
		Err:                err,
	}
}
