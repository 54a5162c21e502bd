package frames

import (
	"io"
	"os"

	"github.com/aofei/mimesniffer"
)

const (
	MediaTypeJPEG    = "image/jpeg"
	UnknownMediaType = "application/octet-stream"
)

// ContentType sniffs the first bytes of the file at path. Decoders can leave a
// truncated frame behind, so the extension is not trusted.
func ContentType(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return UnknownMediaType
	}
	defer func() {
		_ = f.Close()
	}()

	buffer := make([]byte, 512)
	n, err := io.ReadFull(f, buffer)
	if n == 0 && err != nil {
		return UnknownMediaType
	}
	return mimesniffer.Sniff(buffer[:n])
}
