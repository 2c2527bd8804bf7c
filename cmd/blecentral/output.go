package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/srg/blecore/pkg/bleuuid"
	"github.com/srg/blecore/pkg/central"
	"github.com/srg/blecore/pkg/gatt"
)

// knownNames covers the SIG attributes the tool is most often pointed at.
var knownNames = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1809": "Health Thermometer",
	"181a": "Environmental Sensing",
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a19": "Battery Level",
	"2a1c": "Temperature Measurement",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a6e": "Temperature",
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Description",
	"2902": "Client Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
}

// attributeName returns the short UUID and its well-known name, if any.
func attributeName(uuid string) string {
	short := bleuuid.Short(uuid)
	if name, ok := knownNames[short]; ok {
		return short + " " + name
	}
	return short
}

// formatValue renders bytes as hex, or as text when printable and hex is off.
func formatValue(data []byte, asHex bool) string {
	if asHex || !printable(data) {
		return hex.EncodeToString(data)
	}
	return string(data)
}

func printable(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, r := range string(data) {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func properties(ch gatt.Characteristic) []string {
	var out []string
	if ch.IsReadable {
		out = append(out, "read")
	}
	if ch.IsWritableWithResponse {
		out = append(out, "write")
	}
	if ch.IsWritableWithoutResponse {
		out = append(out, "write-without-response")
	}
	if ch.IsNotifiable {
		out = append(out, "notify")
	}
	if ch.IsIndicatable {
		out = append(out, "indicate")
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// deviceView is the JSON shape of a scanned device.
type deviceView struct {
	Address          string   `json:"address"`
	Name             string   `json:"name,omitempty"`
	RSSI             *int     `json:"rssi,omitempty"`
	Connectable      *bool    `json:"connectable,omitempty"`
	TxPower          *int     `json:"tx_power,omitempty"`
	Services         []string `json:"services,omitempty"`
	ManufacturerData string   `json:"manufacturer_data,omitempty"`
}

func newDeviceView(d gatt.Device) deviceView {
	v := deviceView{
		Address:          d.ID,
		Name:             d.Name,
		RSSI:             d.RSSI,
		Connectable:      d.IsConnectable,
		TxPower:          d.TxPowerLevel,
		ManufacturerData: hex.EncodeToString(d.ManufacturerData),
	}
	for _, u := range d.ServiceUUIDs {
		v.Services = append(v.Services, bleuuid.Short(u))
	}
	return v
}

type descriptorView struct {
	ID    int    `json:"id"`
	UUID  string `json:"uuid"`
	Value string `json:"value,omitempty"`
}

type characteristicView struct {
	ID          int              `json:"id"`
	UUID        string           `json:"uuid"`
	Properties  []string         `json:"properties"`
	Value       string           `json:"value,omitempty"`
	Descriptors []descriptorView `json:"descriptors,omitempty"`
}

type serviceView struct {
	ID              int                  `json:"id"`
	UUID            string               `json:"uuid"`
	Primary         bool                 `json:"primary"`
	Characteristics []characteristicView `json:"characteristics"`
}

type profileView struct {
	Address  string        `json:"address"`
	Name     string        `json:"name,omitempty"`
	MTU      *int          `json:"mtu,omitempty"`
	Services []serviceView `json:"services"`
}

func newProfileView(d gatt.Device, tree []central.ServiceTree) profileView {
	v := profileView{Address: d.ID, Name: d.Name, MTU: d.MTU, Services: []serviceView{}}
	for _, st := range tree {
		sv := serviceView{
			ID:              st.Service.ID,
			UUID:            bleuuid.Short(st.Service.UUID),
			Primary:         st.Service.IsPrimary,
			Characteristics: []characteristicView{},
		}
		for _, ct := range st.Characteristics {
			cv := characteristicView{
				ID:         ct.Characteristic.ID,
				UUID:       bleuuid.Short(ct.Characteristic.UUID),
				Properties: properties(ct.Characteristic),
				Value:      hex.EncodeToString(ct.Characteristic.Value),
			}
			for _, d := range ct.Descriptors {
				cv.Descriptors = append(cv.Descriptors, descriptorView{
					ID:    d.ID,
					UUID:  bleuuid.Short(d.UUID),
					Value: hex.EncodeToString(d.Value),
				})
			}
			sv.Characteristics = append(sv.Characteristics, cv)
		}
		v.Services = append(v.Services, sv)
	}
	return v
}

// writeProfileText prints the attribute tree, one attribute per line.
func writeProfileText(w io.Writer, v profileView) {
	header := "Device " + v.Address
	if v.Name != "" {
		header += " (" + v.Name + ")"
	}
	fmt.Fprintln(w, header)
	if v.MTU != nil {
		fmt.Fprintf(w, "  MTU: %d\n", *v.MTU)
	}
	for _, s := range v.Services {
		fmt.Fprintf(w, "  Service %s [#%d]\n", attributeName(s.UUID), s.ID)
		for _, c := range s.Characteristics {
			line := fmt.Sprintf("    Characteristic %s [#%d] %s", attributeName(c.UUID), c.ID, strings.Join(c.Properties, ","))
			if c.Value != "" {
				line += " value=" + c.Value
			}
			fmt.Fprintln(w, line)
			for _, d := range c.Descriptors {
				fmt.Fprintf(w, "      Descriptor %s [#%d]\n", attributeName(d.UUID), d.ID)
			}
		}
	}
}
