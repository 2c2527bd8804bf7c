package bleerror

import (
	"fmt"
	"strings"
)

// Source names the native call that failed. It is set by the native boundary
// and drives the default Kind chosen by Convert.
type Source int

const (
	SourceUnknown Source = iota
	SourceAdapterState
	SourceScan
	SourceConnect
	SourceDisconnect
	SourceServiceDiscovery
	SourceIncludedServiceDiscovery
	SourceCharacteristicDiscovery
	SourceDescriptorDiscovery
	SourceReadCharacteristic
	SourceWriteCharacteristic
	SourceNotify
	SourceReadDescriptor
	SourceWriteDescriptor
	SourceReadRSSI
	SourceRequestMTU
	SourceConnectionPriority
)

var sourceNames = [...]string{
	SourceUnknown:                  "unknown",
	SourceAdapterState:             "adapter_state",
	SourceScan:                     "scan",
	SourceConnect:                  "connect",
	SourceDisconnect:               "disconnect",
	SourceServiceDiscovery:         "service_discovery",
	SourceIncludedServiceDiscovery: "included_service_discovery",
	SourceCharacteristicDiscovery:  "characteristic_discovery",
	SourceDescriptorDiscovery:      "descriptor_discovery",
	SourceReadCharacteristic:       "read_characteristic",
	SourceWriteCharacteristic:      "write_characteristic",
	SourceNotify:                   "notify",
	SourceReadDescriptor:           "read_descriptor",
	SourceWriteDescriptor:          "write_descriptor",
	SourceReadRSSI:                 "read_rssi",
	SourceRequestMTU:               "request_mtu",
	SourceConnectionPriority:       "connection_priority",
}

func (s Source) String() string {
	if s >= 0 && int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Condition is a stack-independent classification of why a native call
// failed. It overrides the Source default when set.
type Condition int

const (
	ConditionNone Condition = iota
	ConditionPoweredOff
	ConditionUnauthorized
	ConditionUnsupported
	ConditionResetting
	ConditionUnknownState
	ConditionNotConnected
	ConditionAlreadyConnected
	ConditionDisconnected
	ConditionLocationDisabled
	ConditionTimeout
	ConditionCancelled
	ConditionNotFound
)

var conditionNames = [...]string{
	ConditionNone:             "none",
	ConditionPoweredOff:       "powered_off",
	ConditionUnauthorized:     "unauthorized",
	ConditionUnsupported:      "unsupported",
	ConditionResetting:        "resetting",
	ConditionUnknownState:     "unknown_state",
	ConditionNotConnected:     "not_connected",
	ConditionAlreadyConnected: "already_connected",
	ConditionDisconnected:     "disconnected",
	ConditionLocationDisabled: "location_disabled",
	ConditionTimeout:          "timeout",
	ConditionCancelled:        "cancelled",
	ConditionNotFound:         "not_found",
}

func (c Condition) String() string {
	if c >= 0 && int(c) < len(conditionNames) {
		return conditionNames[c]
	}
	return fmt.Sprintf("condition(%d)", int(c))
}

// NativeFailure is the failure shape produced by native backends. It never
// crosses the engine boundary; Convert turns it into an *Error.
type NativeFailure struct {
	Source             Source
	Condition          Condition
	Status             *int
	DeviceID           string
	ServiceUUID        string
	CharacteristicUUID string
	DescriptorUUID     string
	Err                error
}

func (f *NativeFailure) Error() string {
	var b strings.Builder
	b.WriteString(f.Source.String())
	if f.Condition != ConditionNone {
		b.WriteString(" [")
		b.WriteString(f.Condition.String())
		b.WriteString("]")
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *NativeFailure) Unwrap() error {
	return f.Err
}
