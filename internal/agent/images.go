package agent

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ImageBlock is a provider-appropriate multipart attachment: base64 data
// with a media type detected from the file extension.
type ImageBlock struct {
	Type   string      `json:"type"`
	Source ImageSource `json:"source"`
}

// ImageSource carries the encoded image bytes.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// MIMEForPath resolves the media type for an image file. Unknown extensions
// fall back to image/png.
func MIMEForPath(path string) string {
	if mime, ok := mimeByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "image/png"
}

// EncodeImage reads and base64-encodes one image file.
func EncodeImage(path string) (ImageBlock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageBlock{}, fmt.Errorf("read image %s: %w", path, err)
	}
	return ImageBlock{
		Type: "image",
		Source: ImageSource{
			Type:      "base64",
			MediaType: MIMEForPath(path),
			Data:      base64.StdEncoding.EncodeToString(data),
		},
	}, nil
}

// EncodeImages encodes every path, failing on the first unreadable file.
func EncodeImages(paths []string) ([]ImageBlock, error) {
	blocks := make([]ImageBlock, 0, len(paths))
	for _, path := range paths {
		block, err := EncodeImage(path)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
