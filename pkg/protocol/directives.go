package protocol

import "strconv"

// RegisterDevice attaches device metadata to the sender's session.
type RegisterDevice struct {
	Name            string `json:"name"`
	Type            string `json:"type,omitempty"`
	IsCurrentDevice bool   `json:"isCurrentDevice,omitempty"`
	IsGuest         bool   `json:"isGuest,omitempty"`
	Browser         string `json:"browser,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
}

// DeviceRegistered acknowledges a registration and tells the sender its own
// session ID.
type DeviceRegistered struct {
	Success  bool   `json:"success"`
	DeviceID string `json:"deviceId"`
	Message  string `json:"message,omitempty"`
}

// DeviceEntry is one row of the public device list. The deviceList payload is
// a plain JSON array of these.
type DeviceEntry struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     DeviceClass `json:"type"`
	IP       string      `json:"ip,omitempty"`
	IsGuest  bool        `json:"isGuest"`
	Browser  string      `json:"browser,omitempty"`
	LastSeen int64       `json:"lastSeen"`
}

// OpenFolder asks a target device (or, with no target, the relay host itself)
// to open a folder.
type OpenFolder struct {
	FolderPath   string `json:"folderPath"`
	TargetDevice string `json:"targetDevice,omitempty"`
}

// FolderOpened notifies a device that a peer wants a folder opened on its
// side, or confirms a local open to the requester.
type FolderOpened struct {
	FolderPath   string `json:"folderPath"`
	SourceDevice string `json:"sourceDevice,omitempty"`
}

// FolderOpenError reports a failed or undeliverable openFolder request.
type FolderOpenError struct {
	Error string `json:"error"`
}

// FileSelected announces the file a device picked. It carries identity
// metadata only, never file bytes.
type FileSelected struct {
	FilePath         string `json:"filePath"`
	FileSize         int64  `json:"fileSize,omitempty"`
	FileType         string `json:"fileType,omitempty"`
	LastModified     int64  `json:"lastModified,omitempty"`
	Timestamp        int64  `json:"timestamp,omitempty"`
	TargetDevice     string `json:"targetDevice,omitempty"`
	SourceDevice     string `json:"sourceDevice,omitempty"`
	SourceDeviceName string `json:"sourceDeviceName,omitempty"`
}

// DedupeKey returns the composite key receivers must deduplicate on.
// Delivery is at-most-once per routing decision, but senders may repeat a
// selection as a reliability measure, so the same key can arrive twice.
func (f FileSelected) DedupeKey() string {
	return f.FilePath + "|" + strconv.FormatInt(f.Timestamp, 10)
}

// Ping requests a liveness reply. With Broadcast set the pong is broadcast to
// the session's connections instead of returned directly.
type Ping struct {
	Broadcast bool `json:"broadcast,omitempty"`
}

// Pong carries the relay's clock.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// StorageEvent is the payload of the three storage-mutation notifications
// (fileUploaded, fileDeleted, fileRenamed) handed to the relay by the storage
// collaborator and broadcast verbatim.
type StorageEvent struct {
	FileID   string `json:"fileId"`
	Filename string `json:"filename"`
	Owner    string `json:"owner,omitempty"`
}
