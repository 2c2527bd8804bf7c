package central

import (
	"slices"
	"strings"

	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/bleuuid"
	"github.com/srg/blecore/pkg/gatt"
)

// KnownDevices returns the cached records of ids, or of every device seen
// when ids is empty. Unknown ids are skipped.
func (e *Engine) KnownDevices(ids []string) ([]gatt.Device, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	return e.cache.Devices(ids), nil
}

// ConnectedDevices returns the connected devices exposing at least one of
// serviceUUIDs, either discovered or advertised. An empty filter returns all.
func (e *Engine) ConnectedDevices(serviceUUIDs []string) ([]gatt.Device, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	filter, err := bleuuid.CanonicalizeAll(serviceUUIDs)
	if err != nil {
		return nil, err
	}
	return e.connectedSnapshot(filter), nil
}

func (e *Engine) connectedSnapshot(filter []string) []gatt.Device {
	e.mu.RLock()
	ids := make([]string, 0, len(e.conns))
	for id, c := range e.conns {
		if _, ok := c.usableLink(); ok {
			ids = append(ids, id)
		}
	}
	e.mu.RUnlock()
	slices.Sort(ids)

	out := make([]gatt.Device, 0, len(ids))
	for _, id := range ids {
		d, ok := e.cache.Device(id)
		if !ok {
			continue
		}
		if len(filter) > 0 && !e.exposes(d, filter) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (e *Engine) exposes(d gatt.Device, filter []string) bool {
	for _, u := range d.ServiceUUIDs {
		if slices.Contains(filter, u) {
			return true
		}
	}
	services, err := e.cache.Services(d.ID)
	if err != nil {
		return false
	}
	for _, s := range services {
		if slices.Contains(filter, s.UUID) {
			return true
		}
	}
	return false
}

// liveCheck fails with DeviceNotConnected unless deviceID has a usable link.
func (e *Engine) liveCheck(deviceID string) error {
	if err := e.usable(); err != nil {
		return err
	}
	_, _, err := e.live(deviceID)
	return err
}

// liveOwner applies the live check to the device an attribute id belongs to.
// A stale id on a device that reconnected without discovery reports
// ServicesNotDiscovered. Ids never handed out fall through to the lookup.
func (e *Engine) liveOwner(id int) error {
	owner, ok := e.cache.Owner(id)
	if !ok {
		return nil
	}
	if _, _, err := e.live(owner); err != nil {
		return err
	}
	if !e.cache.Discovered(owner) {
		return bleerror.New(bleerror.ServicesNotDiscovered, "services not discovered").WithDevice(owner)
	}
	return nil
}

// ServicesForDevice lists the discovered services of a connected device.
func (e *Engine) ServicesForDevice(deviceID string) ([]gatt.Service, error) {
	if err := e.liveCheck(deviceID); err != nil {
		return nil, err
	}
	return e.cache.Services(deviceID)
}

// CharacteristicsForDevice lists the characteristics of a service by UUID.
func (e *Engine) CharacteristicsForDevice(deviceID, serviceUUID string) ([]gatt.Characteristic, error) {
	if err := e.liveCheck(deviceID); err != nil {
		return nil, err
	}
	svc, err := bleuuid.Canonicalize(serviceUUID)
	if err != nil {
		return nil, err
	}
	return e.cache.CharacteristicsForDevice(deviceID, svc)
}

// CharacteristicsForService lists the characteristics of a service by id.
func (e *Engine) CharacteristicsForService(serviceID int) ([]gatt.Characteristic, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	if err := e.liveOwner(serviceID); err != nil {
		return nil, err
	}
	return e.cache.CharacteristicsForService(serviceID)
}

// DescriptorsForDevice lists the descriptors of a characteristic by UUIDs.
func (e *Engine) DescriptorsForDevice(deviceID, serviceUUID, charUUID string) ([]gatt.Descriptor, error) {
	if err := e.liveCheck(deviceID); err != nil {
		return nil, err
	}
	uuids, err := bleuuid.CanonicalizeAll([]string{serviceUUID, charUUID})
	if err != nil {
		return nil, err
	}
	return e.cache.DescriptorsForDevice(deviceID, uuids[0], uuids[1])
}

// DescriptorsForService lists the descriptors of a characteristic inside a
// service id.
func (e *Engine) DescriptorsForService(serviceID int, charUUID string) ([]gatt.Descriptor, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	if err := e.liveOwner(serviceID); err != nil {
		return nil, err
	}
	ch, err := bleuuid.Canonicalize(charUUID)
	if err != nil {
		return nil, err
	}
	return e.cache.DescriptorsForService(serviceID, ch)
}

// DescriptorsForCharacteristic lists the descriptors of a characteristic id.
func (e *Engine) DescriptorsForCharacteristic(charID int) ([]gatt.Descriptor, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	if err := e.liveOwner(charID); err != nil {
		return nil, err
	}
	return e.cache.DescriptorsForCharacteristic(charID)
}

// Tree returns the discovered services of a connected device with their
// characteristics and descriptors, in discovery order.
func (e *Engine) Tree(deviceID string) ([]ServiceTree, error) {
	if err := e.liveCheck(deviceID); err != nil {
		return nil, err
	}
	nodes, err := e.cache.Tree(deviceID)
	if err != nil {
		return nil, err
	}
	out := make([]ServiceTree, 0, len(nodes))
	for _, n := range nodes {
		st := ServiceTree{Service: n.Service}
		for _, ch := range n.Characteristics {
			ct := CharacteristicTree{Characteristic: ch.Characteristic.Clone()}
			for _, d := range ch.Descriptors {
				ct.Descriptors = append(ct.Descriptors, d.Descriptor.Clone())
			}
			st.Characteristics = append(st.Characteristics, ct)
		}
		out = append(out, st)
	}
	return out, nil
}

// ServiceTree is one service with everything below it.
type ServiceTree struct {
	Service         gatt.Service
	Characteristics []CharacteristicTree
}

// CharacteristicTree is one characteristic with its descriptors.
type CharacteristicTree struct {
	Characteristic gatt.Characteristic
	Descriptors    []gatt.Descriptor
}

// FormatUserError renders an engine error for people: the kind name, the
// reason and the attribute it concerns.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	e := bleerror.Convert(err)

	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	var about []string
	if e.DeviceID != "" {
		about = append(about, "device "+e.DeviceID)
	}
	if e.CharacteristicUUID != "" {
		about = append(about, "characteristic "+bleuuid.Short(e.CharacteristicUUID))
	} else if e.ServiceUUID != "" {
		about = append(about, "service "+bleuuid.Short(e.ServiceUUID))
	}
	if e.DescriptorUUID != "" {
		about = append(about, "descriptor "+bleuuid.Short(e.DescriptorUUID))
	}
	if len(about) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(about, ", "))
		b.WriteString(")")
	}
	return b.String()
}
