// Package sanitize trims trailing garbage appended after an image's
// logical terminator so that pHash sees byte-identical content regardless
// of what a transport layer padded onto the file afterward.
package sanitize

import "bytes"

var (
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	pngIEND   = []byte("IEND")
	jpegMagic = []byte{0xFF, 0xD8}
	jpegEOI   = []byte{0xFF, 0xD9}
	gifMagic  = []byte("GIF")
)

// Image returns data unchanged unless it starts with a recognized PNG,
// JPEG, or GIF magic and contains bytes after its logical terminator, in
// which case it returns the prefix ending at that terminator. Never
// reallocates when no trimming is needed.
func Image(data []byte) []byte {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		if idx := bytes.LastIndex(data, pngIEND); idx >= 0 {
			end := idx + 8 // 4-byte chunk type + 4-byte CRC
			if end < len(data) {
				return data[:end]
			}
		}
	case bytes.HasPrefix(data, jpegMagic):
		if idx := bytes.LastIndex(data, jpegEOI); idx >= 0 {
			end := idx + 2
			if end < len(data) {
				return data[:end]
			}
		}
	case bytes.HasPrefix(data, gifMagic):
		if idx := bytes.LastIndexByte(data, 0x3B); idx >= 0 {
			end := idx + 1
			if end < len(data) {
				return data[:end]
			}
		}
	}
	return data
}
