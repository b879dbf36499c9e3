package archive

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const blockSize = 512

var zeroBlock = make([]byte, blockSize)

// StripEndBlocks returns tarData cut right before its end-of-archive marker,
// so that another gzip member can follow it in the same file. The stream is
// walked header by header; zero blocks inside entry contents are kept.
func StripEndBlocks(tarData []byte) ([]byte, error) {
	if len(tarData)%blockSize != 0 {
		return nil, fmt.Errorf("tar stream length %d is not a multiple of %d", len(tarData), blockSize)
	}

	pos := 0
	for pos < len(tarData) {
		hdr := tarData[pos : pos+blockSize]
		if bytes.Equal(hdr, zeroBlock) {
			break
		}

		size, err := parseSize(hdr[124:136])
		if err != nil {
			return nil, fmt.Errorf("header at offset %d: %w", pos, err)
		}
		next := pos + blockSize + int((size+blockSize-1)/blockSize)*blockSize
		if next > len(tarData) {
			return nil, fmt.Errorf("entry at offset %d runs past the end of the stream", pos)
		}
		pos = next
	}

	return tarData[:pos], nil
}

// parseSize decodes a tar numeric field, octal or base-256.
func parseSize(field []byte) (int64, error) {
	if len(field) > 0 && field[0]&0x80 != 0 {
		var v int64
		for i, b := range field {
			if i == 0 {
				b &= 0x7f
			}
			if v > (1<<55)-1 {
				return 0, fmt.Errorf("size field overflows")
			}
			v = v<<8 | int64(b)
		}
		return v, nil
	}

	s := strings.Trim(string(field), " \x00")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 8, 64)
}
