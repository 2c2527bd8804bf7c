package cache

import (
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/gatt"
)

func notDiscovered(deviceID string) *bleerror.Error {
	return bleerror.New(bleerror.ServicesNotDiscovered, "services not discovered").WithDevice(deviceID)
}

func serviceNotFound(deviceID, uuid string) *bleerror.Error {
	return bleerror.New(bleerror.ServiceNotFound, "service not found").WithDevice(deviceID).WithService(uuid)
}

func characteristicNotFound(deviceID, serviceUUID, uuid string) *bleerror.Error {
	return bleerror.New(bleerror.CharacteristicNotFound, "characteristic not found").
		WithDevice(deviceID).WithService(serviceUUID).WithCharacteristic(uuid)
}

func descriptorNotFound(deviceID, serviceUUID, charUUID, uuid string) *bleerror.Error {
	return bleerror.New(bleerror.DescriptorNotFound, "descriptor not found").
		WithDevice(deviceID).WithService(serviceUUID).WithCharacteristic(charUUID).WithDescriptor(uuid)
}

// ---- locked finders ----

func (c *Cache) serviceByUUIDLocked(deviceID, serviceUUID string) (*ServiceNode, error) {
	services, ok := c.topology[deviceID]
	if !ok {
		return nil, notDiscovered(deviceID)
	}
	for pair := services.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Service.UUID == serviceUUID {
			return pair.Value, nil
		}
	}
	return nil, serviceNotFound(deviceID, serviceUUID)
}

func (c *Cache) serviceByIDLocked(serviceID int) (*ServiceNode, error) {
	svc, ok := c.services[serviceID]
	if !ok {
		return nil, bleerror.Newf(bleerror.ServiceNotFound, "service id %d not found", serviceID)
	}
	return svc, nil
}

func characteristicIn(svc *ServiceNode, charUUID string) (*CharacteristicNode, error) {
	for _, ch := range svc.Characteristics {
		if ch.Characteristic.UUID == charUUID {
			return ch, nil
		}
	}
	return nil, characteristicNotFound(svc.Service.DeviceID, svc.Service.UUID, charUUID)
}

func (c *Cache) characteristicByIDLocked(id int) (*CharacteristicNode, error) {
	ch, ok := c.characteristics[id]
	if !ok {
		return nil, bleerror.Newf(bleerror.CharacteristicNotFound, "characteristic id %d not found", id)
	}
	return ch, nil
}

func descriptorIn(ch *CharacteristicNode, descUUID string) (*DescriptorNode, error) {
	for _, ds := range ch.Descriptors {
		if ds.Descriptor.UUID == descUUID {
			return ds, nil
		}
	}
	c := ch.Characteristic
	return nil, descriptorNotFound(c.DeviceID, c.ServiceUUID, c.UUID, descUUID)
}

// ---- characteristic resolution ----

// CharacteristicByUUID resolves a characteristic by device, service UUID and
// characteristic UUID. The first matching service wins.
func (c *Cache) CharacteristicByUUID(deviceID, serviceUUID, charUUID string) (CharacteristicHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, err := c.serviceByUUIDLocked(deviceID, serviceUUID)
	if err != nil {
		return CharacteristicHandle{}, err
	}
	ch, err := characteristicIn(svc, charUUID)
	if err != nil {
		return CharacteristicHandle{}, err
	}
	return charHandle(ch), nil
}

// CharacteristicInService resolves a characteristic by service id and UUID.
func (c *Cache) CharacteristicInService(serviceID int, charUUID string) (CharacteristicHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, err := c.serviceByIDLocked(serviceID)
	if err != nil {
		return CharacteristicHandle{}, err
	}
	ch, err := characteristicIn(svc, charUUID)
	if err != nil {
		return CharacteristicHandle{}, err
	}
	return charHandle(ch), nil
}

// CharacteristicByID resolves a characteristic by its id.
func (c *Cache) CharacteristicByID(id int) (CharacteristicHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ch, err := c.characteristicByIDLocked(id)
	if err != nil {
		return CharacteristicHandle{}, err
	}
	return charHandle(ch), nil
}

// ---- descriptor resolution ----

// DescriptorByUUID resolves a descriptor by device, service, characteristic
// and descriptor UUIDs.
func (c *Cache) DescriptorByUUID(deviceID, serviceUUID, charUUID, descUUID string) (DescriptorHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, err := c.serviceByUUIDLocked(deviceID, serviceUUID)
	if err != nil {
		return DescriptorHandle{}, err
	}
	ch, err := characteristicIn(svc, charUUID)
	if err != nil {
		return DescriptorHandle{}, err
	}
	ds, err := descriptorIn(ch, descUUID)
	if err != nil {
		return DescriptorHandle{}, err
	}
	return descHandle(ds), nil
}

// DescriptorInService resolves a descriptor by service id and UUIDs.
func (c *Cache) DescriptorInService(serviceID int, charUUID, descUUID string) (DescriptorHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, err := c.serviceByIDLocked(serviceID)
	if err != nil {
		return DescriptorHandle{}, err
	}
	ch, err := characteristicIn(svc, charUUID)
	if err != nil {
		return DescriptorHandle{}, err
	}
	ds, err := descriptorIn(ch, descUUID)
	if err != nil {
		return DescriptorHandle{}, err
	}
	return descHandle(ds), nil
}

// DescriptorInCharacteristic resolves a descriptor by characteristic id and UUID.
func (c *Cache) DescriptorInCharacteristic(charID int, descUUID string) (DescriptorHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ch, err := c.characteristicByIDLocked(charID)
	if err != nil {
		return DescriptorHandle{}, err
	}
	ds, err := descriptorIn(ch, descUUID)
	if err != nil {
		return DescriptorHandle{}, err
	}
	return descHandle(ds), nil
}

// DescriptorByID resolves a descriptor by its id.
func (c *Cache) DescriptorByID(id int) (DescriptorHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ds, ok := c.descriptors[id]
	if !ok {
		return DescriptorHandle{}, bleerror.Newf(bleerror.DescriptorNotFound, "descriptor id %d not found", id)
	}
	return descHandle(ds), nil
}

// ---- listings ----

// Services lists the services of deviceID in discovery order.
func (c *Cache) Services(deviceID string) ([]gatt.Service, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	services, ok := c.topology[deviceID]
	if !ok {
		return nil, notDiscovered(deviceID)
	}
	out := make([]gatt.Service, 0, services.Len())
	for pair := services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.Service)
	}
	return out, nil
}

// CharacteristicsForDevice lists the characteristics of the first service with
// serviceUUID on deviceID.
func (c *Cache) CharacteristicsForDevice(deviceID, serviceUUID string) ([]gatt.Characteristic, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, err := c.serviceByUUIDLocked(deviceID, serviceUUID)
	if err != nil {
		return nil, err
	}
	return characteristicsOf(svc), nil
}

// CharacteristicsForService lists the characteristics of service serviceID.
func (c *Cache) CharacteristicsForService(serviceID int) ([]gatt.Characteristic, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, err := c.serviceByIDLocked(serviceID)
	if err != nil {
		return nil, err
	}
	return characteristicsOf(svc), nil
}

// DescriptorsForDevice lists descriptors addressed by UUIDs within deviceID.
func (c *Cache) DescriptorsForDevice(deviceID, serviceUUID, charUUID string) ([]gatt.Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, err := c.serviceByUUIDLocked(deviceID, serviceUUID)
	if err != nil {
		return nil, err
	}
	ch, err := characteristicIn(svc, charUUID)
	if err != nil {
		return nil, err
	}
	return descriptorsOf(ch), nil
}

// DescriptorsForService lists descriptors of charUUID within service serviceID.
func (c *Cache) DescriptorsForService(serviceID int, charUUID string) ([]gatt.Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, err := c.serviceByIDLocked(serviceID)
	if err != nil {
		return nil, err
	}
	ch, err := characteristicIn(svc, charUUID)
	if err != nil {
		return nil, err
	}
	return descriptorsOf(ch), nil
}

// DescriptorsForCharacteristic lists descriptors of characteristic charID.
func (c *Cache) DescriptorsForCharacteristic(charID int) ([]gatt.Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ch, err := c.characteristicByIDLocked(charID)
	if err != nil {
		return nil, err
	}
	return descriptorsOf(ch), nil
}

// Tree returns a snapshot of the full discovered tree of deviceID.
func (c *Cache) Tree(deviceID string) ([]ServiceNode, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	services, ok := c.topology[deviceID]
	if !ok {
		return nil, notDiscovered(deviceID)
	}
	out := make([]ServiceNode, 0, services.Len())
	for pair := services.Oldest(); pair != nil; pair = pair.Next() {
		svc := pair.Value
		node := ServiceNode{Service: svc.Service, Native: svc.Native}
		for _, ch := range svc.Characteristics {
			cn := &CharacteristicNode{Characteristic: ch.Characteristic.Clone(), Native: ch.Native}
			for _, ds := range ch.Descriptors {
				cn.Descriptors = append(cn.Descriptors, &DescriptorNode{Descriptor: ds.Descriptor.Clone(), Native: ds.Native})
			}
			node.Characteristics = append(node.Characteristics, cn)
		}
		out = append(out, node)
	}
	return out, nil
}

func characteristicsOf(svc *ServiceNode) []gatt.Characteristic {
	out := make([]gatt.Characteristic, 0, len(svc.Characteristics))
	for _, ch := range svc.Characteristics {
		out = append(out, ch.Characteristic.Clone())
	}
	return out
}

func descriptorsOf(ch *CharacteristicNode) []gatt.Descriptor {
	out := make([]gatt.Descriptor, 0, len(ch.Descriptors))
	for _, ds := range ch.Descriptors {
		out = append(out, ds.Descriptor.Clone())
	}
	return out
}

func charHandle(ch *CharacteristicNode) CharacteristicHandle {
	return CharacteristicHandle{Characteristic: ch.Characteristic.Clone(), Native: ch.Native}
}

func descHandle(ds *DescriptorNode) DescriptorHandle {
	return DescriptorHandle{Descriptor: ds.Descriptor.Clone(), Native: ds.Native}
}
