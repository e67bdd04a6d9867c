package protocol

import (
	"path"
	"strings"
)

// FileType is the coarse content classification carried in file
// descriptors. It only drives display on the receiving side.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeVideo FileType = "video"
	FileTypePDF   FileType = "pdf"
	FileTypeText  FileType = "text"
	FileTypeAPK   FileType = "apk"
	FileTypeOther FileType = "other"
)

// fileTypeByExt maps lowercase filename extensions to their FileType.
var fileTypeByExt = map[string]FileType{
	".jpg":  FileTypeImage,
	".jpeg": FileTypeImage,
	".png":  FileTypeImage,
	".gif":  FileTypeImage,
	".bmp":  FileTypeImage,
	".webp": FileTypeImage,
	".heic": FileTypeImage,
	".svg":  FileTypeImage,
	".mp4":  FileTypeVideo,
	".mov":  FileTypeVideo,
	".avi":  FileTypeVideo,
	".mkv":  FileTypeVideo,
	".webm": FileTypeVideo,
	".m4v":  FileTypeVideo,
	".pdf":  FileTypePDF,
	".txt":  FileTypeText,
	".md":   FileTypeText,
	".csv":  FileTypeText,
	".log":  FileTypeText,
	".json": FileTypeText,
	".xml":  FileTypeText,
	".yaml": FileTypeText,
	".yml":  FileTypeText,
	".html": FileTypeText,
	".apk":  FileTypeAPK,
}

// DetectFileType classifies a file name by its extension,
// case-insensitively. Unknown extensions map to FileTypeOther.
func DetectFileType(name string) FileType {
	ext := strings.ToLower(path.Ext(name))
	if t, ok := fileTypeByExt[ext]; ok {
		return t
	}
	return FileTypeOther
}

// DeviceInfo is the public metadata served on /info and embedded in the
// handshake request.
type DeviceInfo struct {
	Alias       string `json:"alias"`
	Version     string `json:"version"`
	DeviceModel string `json:"deviceModel"`
	DeviceType  string `json:"deviceType"`
	Fingerprint string `json:"fingerprint"`
	Download    bool   `json:"download"`
}

// FileMeta carries optional file timestamps, RFC 3339 formatted.
type FileMeta struct {
	Modified string `json:"modified,omitempty"`
	Accessed string `json:"accessed,omitempty"`
}

// FileDescriptor describes one file offered for download. Name is the
// sender-relative path with forward-slash separators; the receiver must
// treat it as untrusted input.
type FileDescriptor struct {
	ID       string    `json:"id"`
	Name     string    `json:"fileName"`
	Size     uint64    `json:"size"`
	Type     FileType  `json:"fileType"`
	Metadata *FileMeta `json:"metadata,omitempty"`
}

// Announce is the inner discovery payload. It is marshalled once on the
// sender and carried as a string inside BeaconEnvelope so the HMAC covers
// the exact bytes.
type Announce struct {
	Alias        string `json:"alias"`
	Version      string `json:"version"`
	DeviceModel  string `json:"deviceModel"`
	DeviceType   string `json:"deviceType"`
	Fingerprint  string `json:"fingerprint"`
	Port         int    `json:"port"`
	Protocol     string `json:"protocol"`
	Download     bool   `json:"download"`
	Announcement bool   `json:"announcement"`
	Announce     bool   `json:"announce"`
	CodeHash     string `json:"codeHash"`
	CliSessionID string `json:"cliSessionId"`
	CliMode      bool   `json:"cliMode"`
}

// BeaconEnvelope is the outer discovery datagram: the raw announce JSON
// plus its hex HMAC-SHA256 keyed by the canonical code phrase.
type BeaconEnvelope struct {
	Data string `json:"data"`
	HMAC string `json:"hmac"`
}

// CliAuth authenticates a handshake: Timestamp is unix milliseconds as a
// decimal string, Proof is the hex HMAC binding it to the server
// fingerprint.
type CliAuth struct {
	Timestamp string `json:"timestamp"`
	Proof     string `json:"proof"`
}

// PrepareUploadRequest is the handshake body POSTed by the receiver.
// CliAuth is a pointer so a missing object is distinguishable from an
// empty one.
type PrepareUploadRequest struct {
	Info    DeviceInfo                `json:"info"`
	Files   map[string]FileDescriptor `json:"files"`
	CliAuth *CliAuth                  `json:"cliAuth,omitempty"`
}

// PrepareUploadResponse answers a successful handshake with the session id
// and the full file manifest.
type PrepareUploadResponse struct {
	SessionID string                    `json:"sessionId"`
	Files     map[string]FileDescriptor `json:"files"`
}
