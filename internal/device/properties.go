package device

import (
	"github.com/nerrad567/diagbridge/internal/remote"
	"github.com/nerrad567/diagbridge/internal/result"
)

// Bus interface names.
const (
	InterfaceProperties      = "org.freedesktop.DBus.Properties"
	InterfaceDevice          = "com.graylogic.Diagnostics.Device"
	InterfaceBasicManagement = "com.graylogic.Diagnostics.BasicManagement"
	InterfaceManager         = "com.graylogic.Diagnostics.Manager"

	SignalPropertiesChanged = "PropertiesChanged"
)

// Device properties.
const (
	PropDeviceType       = "DeviceType"
	PropUDN              = "UDN"
	PropFriendlyName     = "FriendlyName"
	PropIconURL          = "IconURL"
	PropManufacturer     = "Manufacturer"
	PropManufacturerURL  = "ManufacturerUrl"
	PropModelDescription = "ModelDescription"
	PropModelName        = "ModelName"
	PropModelNumber      = "ModelNumber"
	PropSerialNumber     = "SerialNumber"
	PropPresentationURL  = "PresentationURL"
	PropStatusInfo       = "StatusInfo"
	PropTestIDs          = "TestIDs"
	PropActiveTestIDs    = "ActiveTestIDs"
)

// Evented state variables of the BasicManagement service.
const (
	VarDeviceStatus  = "DeviceStatus"
	VarTestIDs       = "TestIDs"
	VarActiveTestIDs = "ActiveTestIDs"
)

var eventVariables = []string{VarDeviceStatus, VarTestIDs, VarActiveTestIDs}

// PropertiesChanged is the payload of the PropertiesChanged signal.
type PropertiesChanged struct {
	Interface   string         `json:"interface"`
	Changed     map[string]any `json:"changed"`
	Invalidated []string       `json:"invalidated"`
}

// descriptorProps builds the static part of the property table. DeviceType
// and UDN are always present; the other fields only when advertised.
func descriptorProps(d remote.Descriptor) map[string]any {
	props := map[string]any{
		PropDeviceType: d.DeviceType,
		PropUDN:        d.UDN,
	}
	optional := []struct {
		key   string
		value string
	}{
		{PropFriendlyName, d.FriendlyName},
		{PropIconURL, d.IconURL},
		{PropManufacturer, d.Manufacturer},
		{PropManufacturerURL, d.ManufacturerURL},
		{PropModelDescription, d.ModelDescription},
		{PropModelName, d.ModelName},
		{PropModelNumber, d.ModelNumber},
		{PropSerialNumber, d.SerialNumber},
		{PropPresentationURL, d.PresentationURL},
	}
	for _, o := range optional {
		if o.value != "" {
			props[o.key] = o.value
		}
	}
	return props
}

// eventProperty maps an evented variable to the property it updates.
func eventProperty(variable, value string) (string, any, bool) {
	switch variable {
	case VarDeviceStatus:
		return PropStatusInfo, result.ParseStatusInfo(value), true
	case VarTestIDs:
		return PropTestIDs, result.ParseTestIDs(value), true
	case VarActiveTestIDs:
		return PropActiveTestIDs, result.ParseTestIDs(value), true
	}
	return "", nil, false
}
