// internal/llmclient/image.go
package llmclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/xkilldash9x/bidi-pilot/api/schemas"
)

// maxImageBytes bounds a fetched image.
const maxImageBytes = 20 << 20

// FetchImage downloads url and wraps it as a chat image. Only PNG and JPEG are accepted.
func FetchImage(ctx context.Context, client *http.Client, url string) (schemas.Image, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return schemas.Image{}, fmt.Errorf("failed to create image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return schemas.Image{}, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return schemas.Image{}, fmt.Errorf("failed to fetch image: %s", resp.Status)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var format schemas.ImageFormat
	switch mediaType {
	case "image/png":
		format = schemas.ImageFormatPNG
	case "image/jpeg":
		format = schemas.ImageFormatJPEG
	default:
		return schemas.Image{}, fmt.Errorf("unsupported image type: %s", resp.Header.Get("Content-Type"))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return schemas.Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	return schemas.Image{Format: format, Data: base64.StdEncoding.EncodeToString(data)}, nil
}
