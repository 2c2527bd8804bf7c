package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/pkg/bleuuid"
)

// txPowerUnavailable is what go-ble reports when no TX power was advertised.
const txPowerUnavailable = 127

func canonical(u ble.UUID) string {
	raw := u.String()
	if c, err := bleuuid.Canonicalize(raw); err == nil {
		return c
	}
	return raw
}

func canonicalAll(uuids []ble.UUID) []string {
	if len(uuids) == 0 {
		return nil
	}
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = canonical(u)
	}
	return out
}

func advertisementFrom(a ble.Advertisement) native.Advertisement {
	adv := native.Advertisement{
		RSSI:                  a.RSSI(),
		LocalName:             a.LocalName(),
		ManufacturerData:      a.ManufacturerData(),
		ServiceUUIDs:          canonicalAll(a.Services()),
		SolicitedServiceUUIDs: canonicalAll(a.SolicitedService()),
		OverflowServiceUUIDs:  canonicalAll(a.OverflowService()),
	}
	if addr := a.Addr(); addr != nil {
		adv.Address = addr.String()
	}
	if sd := a.ServiceData(); len(sd) > 0 {
		adv.ServiceData = make(map[string][]byte, len(sd))
		for _, d := range sd {
			adv.ServiceData[canonical(d.UUID)] = d.Data
		}
	}
	if tx := a.TxPowerLevel(); tx != txPowerUnavailable {
		adv.TxPowerLevel = &tx
	}
	connectable := a.Connectable()
	adv.Connectable = &connectable
	return adv
}

func propertiesFrom(p ble.Property) native.Property {
	var out native.Property
	if p&ble.CharBroadcast != 0 {
		out |= native.PropBroadcast
	}
	if p&ble.CharRead != 0 {
		out |= native.PropRead
	}
	if p&ble.CharWriteNR != 0 {
		out |= native.PropWriteNoResp
	}
	if p&ble.CharWrite != 0 {
		out |= native.PropWrite
	}
	if p&ble.CharNotify != 0 {
		out |= native.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		out |= native.PropIndicate
	}
	return out
}

func profileFrom(p *ble.Profile) []*native.RemoteService {
	if p == nil {
		return nil
	}
	services := make([]*native.RemoteService, 0, len(p.Services))
	for _, s := range p.Services {
		svc := &native.RemoteService{
			UUID:    canonical(s.UUID),
			Handle:  s.Handle,
			Primary: true,
			Native:  s,
		}
		for _, c := range s.Characteristics {
			ch := &native.RemoteCharacteristic{
				UUID:        canonical(c.UUID),
				Handle:      c.Handle,
				ValueHandle: c.ValueHandle,
				Properties:  propertiesFrom(c.Property),
				Native:      c,
			}
			for _, d := range c.Descriptors {
				ch.Descriptors = append(ch.Descriptors, &native.RemoteDescriptor{
					UUID:   canonical(d.UUID),
					Handle: d.Handle,
					Native: d,
				})
			}
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		services = append(services, svc)
	}
	return services
}
