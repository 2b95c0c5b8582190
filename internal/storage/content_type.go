package storage

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// extraTypes covers extensions the platform mime tables often lack.
var extraTypes = map[string]string{
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".zip":  "application/zip",
	".lock": "application/json",
	".json": "application/json",
}

// DetectContentType determines the MIME type of an object.
//
// Priority: providedType, then the key's extension, then sniffing the first
// 512 bytes of data when given, then application/octet-stream.
func DetectContentType(providedType, key string, data io.Reader) string {
	if providedType != "" {
		return providedType
	}

	ext := strings.ToLower(filepath.Ext(key))
	if ct, ok := extraTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}

	if data != nil {
		buffer := make([]byte, 512)
		n, err := io.ReadFull(data, buffer)
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return http.DetectContentType(buffer[:n])
		}
	}

	return "application/octet-stream"
}
