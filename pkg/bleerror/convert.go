package bleerror

import (
	"context"
	"errors"
	"fmt"
)

// Convert maps any failure onto exactly one Kind, keeping whatever context the
// failure carries. It never panics and never returns nil for a non-nil err.
func Convert(err error) *Error {
	if err == nil {
		return nil
	}

	var bleErr *Error
	if errors.As(err, &bleErr) && bleErr != nil {
		return bleErr
	}

	var nf *NativeFailure
	if errors.As(err, &nf) && nf != nil {
		return convertNative(nf)
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: OperationCancelled, Reason: err.Error(), Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: OperationTimedOut, Reason: err.Error(), Err: err}
	}

	return &Error{Kind: UnknownError, Reason: safeString(err), Err: err}
}

func convertNative(f *NativeFailure) *Error {
	kind := kindForCondition(f)
	if kind == UnknownError {
		switch {
		case errors.Is(f.Err, context.DeadlineExceeded):
			kind = OperationTimedOut
		case errors.Is(f.Err, context.Canceled):
			kind = OperationCancelled
		default:
			kind = kindForSource(f.Source)
		}
	}

	e := &Error{
		Kind:               kind,
		DeviceID:           f.DeviceID,
		ServiceUUID:        f.ServiceUUID,
		CharacteristicUUID: f.CharacteristicUUID,
		DescriptorUUID:     f.DescriptorUUID,
		Err:                f.Err,
	}
	if f.Status != nil {
		status := *f.Status
		e.ATTErrorCode = &status
	}
	if f.Err != nil {
		e.Reason = safeString(f.Err)
	}
	return e
}

func kindForCondition(f *NativeFailure) Kind {
	switch f.Condition {
	case ConditionNone:
		return UnknownError
	case ConditionPoweredOff:
		return BluetoothPoweredOff
	case ConditionUnauthorized:
		return BluetoothUnauthorized
	case ConditionUnsupported:
		return BluetoothUnsupported
	case ConditionResetting:
		return BluetoothResetting
	case ConditionUnknownState:
		return BluetoothInUnknownState
	case ConditionNotConnected:
		return DeviceNotConnected
	case ConditionAlreadyConnected:
		return DeviceAlreadyConnected
	case ConditionDisconnected:
		return DeviceDisconnected
	case ConditionLocationDisabled:
		return LocationServicesDisabled
	case ConditionTimeout:
		return OperationTimedOut
	case ConditionCancelled:
		return OperationCancelled
	case ConditionNotFound:
		switch f.Source {
		case SourceConnect:
			return DeviceNotFound
		case SourceServiceDiscovery, SourceIncludedServiceDiscovery:
			return ServiceNotFound
		case SourceCharacteristicDiscovery, SourceReadCharacteristic, SourceWriteCharacteristic, SourceNotify:
			return CharacteristicNotFound
		case SourceDescriptorDiscovery, SourceReadDescriptor, SourceWriteDescriptor:
			return DescriptorNotFound
		default:
			return kindForSource(f.Source)
		}
	default:
		return UnknownError
	}
}

func kindForSource(s Source) Kind {
	switch s {
	case SourceUnknown:
		return UnknownError
	case SourceAdapterState:
		return BluetoothStateChangeFailed
	case SourceScan:
		return ScanStartFailed
	case SourceConnect:
		return DeviceConnectionFailed
	case SourceDisconnect:
		return DeviceDisconnected
	case SourceServiceDiscovery:
		return ServicesDiscoveryFailed
	case SourceIncludedServiceDiscovery:
		return IncludedServicesDiscoveryFailed
	case SourceCharacteristicDiscovery:
		return CharacteristicsDiscoveryFailed
	case SourceDescriptorDiscovery:
		return DescriptorsDiscoveryFailed
	case SourceReadCharacteristic:
		return CharacteristicReadFailed
	case SourceWriteCharacteristic:
		return CharacteristicWriteFailed
	case SourceNotify:
		return CharacteristicNotifyChangeFailed
	case SourceReadDescriptor:
		return DescriptorReadFailed
	case SourceWriteDescriptor:
		return DescriptorWriteFailed
	case SourceReadRSSI:
		return DeviceRSSIReadFailed
	case SourceRequestMTU:
		return DeviceMTUChangeFailed
	case SourceConnectionPriority:
		return OperationStartFailed
	default:
		return UnknownError
	}
}

// safeString stringifies err even when its Error method panics.
func safeString(err error) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("%T (unprintable: %v)", err, r)
		}
	}()
	return err.Error()
}
