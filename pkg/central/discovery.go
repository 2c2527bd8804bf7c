package central

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/cache"
	"github.com/srg/blecore/internal/identity"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/pkg/gatt"
)

// DiscoverAll walks the whole attribute tree of a connected device, assigns
// ids and replaces the cached topology. It resolves with the device record.
func (e *Engine) DiscoverAll(deviceID, txID string) *Future[gatt.Device] {
	if err := e.usable(); err != nil {
		return failed[gatt.Device](err)
	}
	c, link, err := e.live(deviceID)
	if err != nil {
		return failed[gatt.Device](err)
	}

	return submit(e, c, link, txID, "discover_all", target{device: deviceID},
		func(ctx context.Context, link native.Link) (gatt.Device, error) {
			c.setPhase(phaseDiscovering)
			remote, err := link.DiscoverProfile(ctx)
			if err != nil {
				c.setPhase(phaseConnected)
				return gatt.Device{}, err
			}
			services := e.buildTopology(deviceID, remote)

			e.mu.RLock()
			current := e.conns[deviceID] == c
			if current {
				e.cache.ReplaceTopology(deviceID, services)
			}
			e.mu.RUnlock()
			if !current {
				return gatt.Device{}, notConnected(deviceID)
			}
			c.setPhase(phaseReady)

			e.logger.WithFields(logrus.Fields{
				"device_id": deviceID,
				"services":  len(services),
			}).Info("Services discovered")

			device, _ := e.cache.Device(deviceID)
			return device, nil
		})
}

// buildTopology converts the native tree and assigns stable ids. Attributes
// without a handle are told apart by their device-wide discovery ordinal.
func (e *Engine) buildTopology(deviceID string, remote []*native.RemoteService) []*cache.ServiceNode {
	ordinals := make(map[string]int)
	instance := func(scope identity.Scope, uuid string, handle uint16) int {
		key := string(scope) + uuid
		n := ordinals[key]
		ordinals[key] = n + 1
		return identity.Instance(handle, n)
	}

	services := make([]*cache.ServiceNode, 0, len(remote))
	for _, rs := range remote {
		svc := gatt.Service{
			ID:        e.ids.IDFor(identity.ScopeService, deviceID, rs.UUID, instance(identity.ScopeService, rs.UUID, rs.Handle)),
			UUID:      rs.UUID,
			DeviceID:  deviceID,
			IsPrimary: rs.Primary,
		}
		node := &cache.ServiceNode{Service: svc, Native: rs}

		for _, rc := range rs.Characteristics {
			ch := gatt.Characteristic{
				ID:                        e.ids.IDFor(identity.ScopeCharacteristic, deviceID, rc.UUID, instance(identity.ScopeCharacteristic, rc.UUID, rc.Handle)),
				UUID:                      rc.UUID,
				ServiceID:                 svc.ID,
				ServiceUUID:               svc.UUID,
				DeviceID:                  deviceID,
				IsReadable:                rc.Properties.Has(native.PropRead),
				IsWritableWithResponse:    rc.Properties.Has(native.PropWrite),
				IsWritableWithoutResponse: rc.Properties.Has(native.PropWriteNoResp),
				IsNotifiable:              rc.Properties.Has(native.PropNotify),
				IsIndicatable:             rc.Properties.Has(native.PropIndicate),
			}
			chNode := &cache.CharacteristicNode{Characteristic: ch, Native: rc}

			for _, rd := range rc.Descriptors {
				chNode.Descriptors = append(chNode.Descriptors, &cache.DescriptorNode{
					Descriptor: gatt.Descriptor{
						ID:                 e.ids.IDFor(identity.ScopeDescriptor, deviceID, rd.UUID, instance(identity.ScopeDescriptor, rd.UUID, rd.Handle)),
						UUID:               rd.UUID,
						CharacteristicID:   ch.ID,
						CharacteristicUUID: ch.UUID,
						ServiceID:          svc.ID,
						ServiceUUID:        svc.UUID,
						DeviceID:           deviceID,
					},
					Native: rd,
				})
			}
			node.Characteristics = append(node.Characteristics, chNode)
		}
		services = append(services, node)
	}
	return services
}
