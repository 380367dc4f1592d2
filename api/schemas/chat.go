package schemas

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// -- Chat Schemas --

// ImageFormat names the encoding of an image payload attached to a chat message.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "png"
	ImageFormatJPEG ImageFormat = "jpeg"
	ImageFormatJPG  ImageFormat = "jpg"
)

// Image is a base64 encoded image payload. Data never carries the data URL prefix.
type Image struct {
	Format ImageFormat `json:"format"`
	Data   string      `json:"data"`
}

// NewPNGImage encodes raw PNG bytes, typically a captured screenshot.
func NewPNGImage(raw []byte) Image {
	return Image{Format: ImageFormatPNG, Data: base64.StdEncoding.EncodeToString(raw)}
}

// Validate reports whether the image can be sent to a chat endpoint.
func (i Image) Validate() error {
	switch i.Format {
	case ImageFormatPNG, ImageFormatJPEG, ImageFormatJPG:
	default:
		return fmt.Errorf("image format must be one of [png jpeg jpg], but got %q", i.Format)
	}
	if i.Data == "" {
		return fmt.Errorf("image payload is empty")
	}
	return nil
}

// DataURL renders the image in the data:image/<fmt>;base64,<data> form used by chat endpoints.
func (i Image) DataURL() string {
	return "data:image/" + string(i.Format) + ";base64," + i.Data
}

// Decode returns the raw image bytes.
func (i Image) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(i.Data)
}

// MIMEType returns the content type of the payload.
func (i Image) MIMEType() string {
	if i.Format == ImageFormatJPG {
		return "image/jpeg"
	}
	return "image/" + string(i.Format)
}

// ChatMessage is a chat-ready message: text plus an ordered list of images.
// It is produced by the input tool for observable output and by the top level caller.
type ChatMessage struct {
	Text   string  `json:"text"`
	Images []Image `json:"images,omitempty"`
}

// String returns a compact description suitable for logs.
func (m ChatMessage) String() string {
	text := m.Text
	if len(text) > 80 {
		text = text[:77] + "..."
	}
	text = strings.ReplaceAll(text, "\n", " ")
	if len(m.Images) == 0 {
		return text
	}
	return fmt.Sprintf("%s [+%d image(s)]", text, len(m.Images))
}

// -- Lifecycle Schemas --

// ActionEvent describes a verb about to be performed by the input tool.
type ActionEvent struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
}
