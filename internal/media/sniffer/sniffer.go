// Package sniffer identifies photo formats from their leading bytes so uploads
// are typed by content, not by the client's claim.
package sniffer

import (
	"bytes"
	"errors"
	"io"
	"mime"
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

// HeadSize is how many bytes Detect needs to classify every format.
const HeadSize = 512

var ErrUnsupported = errors.New("unsupported image format")

type Result struct {
	Format Format
	MIME   string
}

// Extension is the file extension used for stored objects.
func (r Result) Extension() string {
	if r.Format == FormatJPEG {
		return "jpg"
	}
	return string(r.Format)
}

var signatures = []struct {
	match  func([]byte) bool
	result Result
}{
	{isJPEG, Result{FormatJPEG, "image/jpeg"}},
	{isPNG, Result{FormatPNG, "image/png"}},
	{isWEBP, Result{FormatWEBP, "image/webp"}},
	{isGIF, Result{FormatGIF, "image/gif"}},
	{isBMP, Result{FormatBMP, "image/bmp"}},
	{isTIFF, Result{FormatTIFF, "image/tiff"}},
}

// Detect reads up to HeadSize bytes and returns them with the result so the
// caller can stitch the stream back together.
func Detect(r io.Reader) (Result, []byte, error) {
	head := make([]byte, HeadSize)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Result{}, nil, err
	}
	head = head[:n]
	result, err := DetectHead(head)
	return result, head, err
}

func DetectHead(head []byte) (Result, error) {
	for _, sig := range signatures {
		if sig.match(head) {
			return sig.result, nil
		}
	}
	return Result{}, ErrUnsupported
}

func isJPEG(head []byte) bool {
	return len(head) > 3 && head[0] == 0xff && head[1] == 0xd8 && head[2] == 0xff
}

func isPNG(head []byte) bool {
	magic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	return bytes.HasPrefix(head, magic)
}

func isWEBP(head []byte) bool {
	return len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP"))
}

func isGIF(head []byte) bool {
	return bytes.HasPrefix(head, []byte("GIF87a")) || bytes.HasPrefix(head, []byte("GIF89a"))
}

func isBMP(head []byte) bool {
	return len(head) >= 14 && head[0] == 'B' && head[1] == 'M'
}

func isTIFF(head []byte) bool {
	return bytes.HasPrefix(head, []byte{'I', 'I', 0x2a, 0x00}) || bytes.HasPrefix(head, []byte{'M', 'M', 0x00, 0x2a})
}

// DeclaredMIME returns the media type a client claimed, without parameters.
func DeclaredMIME(raw string) string {
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	return mediaType
}
