// Package images normalizes user-supplied image inputs into validated
// ChatImageAttachment values. Inputs arrive either as filesystem paths or as
// inline data URLs; both are capped at 8 MiB and restricted to the image
// types every backend accepts.
package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/haasonsaas/relay/pkg/models"
)

// MaxBytes caps the decoded payload of one attachment.
const MaxBytes = 8 << 20

var extToMime = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

var allowedMimes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// Input is the variant shape accepted by session.send: exactly one of Path
// or DataURL must be set.
type Input struct {
	Path    string `json:"path,omitempty"`
	DataURL string `json:"data_url,omitempty"`
}

// Load normalizes one input into a validated attachment.
func Load(in Input) (models.ChatImageAttachment, error) {
	switch {
	case in.Path != "" && in.DataURL != "":
		return models.ChatImageAttachment{}, fmt.Errorf("image input must set path or data_url, not both")
	case in.Path != "":
		return loadPath(in.Path)
	case in.DataURL != "":
		return loadDataURL(in.DataURL)
	default:
		return models.ChatImageAttachment{}, fmt.Errorf("image input requires path or data_url")
	}
}

// LoadAll normalizes a batch, failing on the first bad input.
func LoadAll(inputs []Input) ([]models.ChatImageAttachment, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	out := make([]models.ChatImageAttachment, 0, len(inputs))
	for i, in := range inputs {
		att, err := Load(in)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		out = append(out, att)
	}
	return out, nil
}

func loadPath(path string) (models.ChatImageAttachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.ChatImageAttachment{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return models.ChatImageAttachment{}, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > MaxBytes {
		return models.ChatImageAttachment{}, fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), MaxBytes)
	}

	mime, ok := extToMime[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return models.ChatImageAttachment{}, fmt.Errorf("unsupported image extension %q", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.ChatImageAttachment{}, fmt.Errorf("read %s: %w", path, err)
	}

	att := models.ChatImageAttachment{
		Path:     path,
		MimeType: mime,
		DataURL:  "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
		ByteSize: int64(len(data)),
	}
	probeDimensions(&att, data)
	return att, nil
}

func loadDataURL(url string) (models.ChatImageAttachment, error) {
	mime, payload, err := ParseDataURL(url)
	if err != nil {
		return models.ChatImageAttachment{}, err
	}
	if !allowedMimes[mime] {
		return models.ChatImageAttachment{}, fmt.Errorf("unsupported image type %q", mime)
	}
	if len(payload) > MaxBytes {
		return models.ChatImageAttachment{}, fmt.Errorf("inline image is %d bytes, limit is %d", len(payload), MaxBytes)
	}

	att := models.ChatImageAttachment{
		MimeType: mime,
		DataURL:  "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(payload),
		ByteSize: int64(len(payload)),
	}
	probeDimensions(&att, payload)
	return att, nil
}

// ParseDataURL splits a data:<mime>;base64,<payload> URL into its mime type
// and decoded bytes.
func ParseDataURL(url string) (mime string, payload []byte, err error) {
	if !strings.HasPrefix(url, "data:") {
		return "", nil, fmt.Errorf("not a data URL")
	}
	head, body, found := strings.Cut(url[len("data:"):], ",")
	if !found {
		return "", nil, fmt.Errorf("malformed data URL: missing comma")
	}
	mime, _, _ = strings.Cut(head, ";")
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "" {
		return "", nil, fmt.Errorf("malformed data URL: missing mime type")
	}
	if !strings.Contains(head, ";base64") {
		return "", nil, fmt.Errorf("data URL must be base64 encoded")
	}
	payload, err = base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL payload: %w", err)
	}
	return mime, payload, nil
}

// probeDimensions records width/height when the header decodes. A payload
// that does not decode as its claimed type is still accepted; backends do
// their own validation.
func probeDimensions(att *models.ChatImageAttachment, data []byte) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return
	}
	att.Width = cfg.Width
	att.Height = cfg.Height
}

// AppendPlaceholders appends any missing "[Image N]" tokens (1-indexed) to
// text so references line up with the attachment order. Calling it again
// with the same n changes nothing.
func AppendPlaceholders(text string, n int) string {
	if n <= 0 {
		return text
	}
	var missing []string
	for i := 1; i <= n; i++ {
		token := fmt.Sprintf("[Image %d]", i)
		if !strings.Contains(text, token) {
			missing = append(missing, token)
		}
	}
	if len(missing) == 0 {
		return text
	}
	joined := strings.Join(missing, " ")
	if strings.TrimSpace(text) == "" {
		return joined
	}
	return text + "\n" + joined
}
