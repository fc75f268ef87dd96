package classifier

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// MaxImageBytes bounds a single decoded attachment.
const MaxImageBytes = 8 << 20

// decodeImage accepts a data URL or bare base64 and returns the bytes with
// their MIME type. Only images are accepted.
func decodeImage(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	declared := ""
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, "", fmt.Errorf("image data URL must be base64 encoded")
		}
		declared = strings.TrimSuffix(meta, ";base64")
		s = payload
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return nil, "", fmt.Errorf("image is not valid base64: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("image is empty")
	}
	if len(data) > MaxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		if !strings.HasPrefix(declared, "image/") {
			return nil, "", fmt.Errorf("attachment is not an image (%s)", mime)
		}
		mime = declared
	}
	return data, mime, nil
}
