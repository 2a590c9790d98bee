package protocol

// Kind identifies a directive. The set is closed: the router switches
// exhaustively over the client-originated kinds, and unknown kinds are dropped.
type Kind string

// Client-originated directive kinds.
const (
	KindRegisterDevice  Kind = "registerDevice"
	KindDiscoverDevices Kind = "discoverDevices"
	KindOpenFolder      Kind = "openFolder"
	KindFileSelected    Kind = "fileSelected"
	KindPing            Kind = "ping"
)

// Relay-originated directive kinds.
const (
	KindDeviceRegistered Kind = "deviceRegistered"
	KindDeviceList       Kind = "deviceList"
	KindFolderOpened     Kind = "folderOpened"
	KindFolderOpenError  Kind = "folderOpenError"
	KindPong             Kind = "pong"
)

// Storage-mutation notification kinds. Produced by the storage collaborator
// and broadcast verbatim; the relay never interprets them.
const (
	KindFileUploaded Kind = "fileUploaded"
	KindFileDeleted  Kind = "fileDeleted"
	KindFileRenamed  Kind = "fileRenamed"
)

// DeviceClass is the coarse hardware category assigned at registration time.
type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceDesktop DeviceClass = "desktop"
)

// ValidDeviceClass reports whether c is one of the three known classes.
func ValidDeviceClass(c DeviceClass) bool {
	switch c {
	case DeviceMobile, DeviceTablet, DeviceDesktop:
		return true
	}
	return false
}
