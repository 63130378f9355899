package audiomoth

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// chunkSet holds the RIFF chunks relevant to AudioMoth metadata.
type chunkSet struct {
	guano    string // text of the guan chunk
	comment  string // LIST/INFO/ICMT text
	dataSize int64  // byte length of the PCM data chunk
	hasData  bool
}

// readChunks walks the top-level chunks of a RIFF/WAVE stream. The data chunk
// is skipped without being read.
func readChunks(r io.ReadSeeker) (*chunkSet, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(header[0:4]) != "RIFF" {
		return nil, fmt.Errorf("not a RIFF file")
	}
	if string(header[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a WAVE file")
	}

	cs := &chunkSet{}
	var chunkHeader [8]byte
	for {
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			// EOF or a truncated trailing header both end the walk
			break
		}
		id := string(chunkHeader[0:4])
		size := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))
		padded := size + size%2

		switch id {
		case "data":
			cs.dataSize = size
			cs.hasData = true
			if _, err := r.Seek(padded, io.SeekCurrent); err != nil {
				return cs, nil
			}
		case "guan", "LIST":
			body := make([]byte, size)
			n, err := io.ReadFull(r, body)
			body = body[:n]
			if id == "guan" {
				cs.guano = cleanText(body)
			} else if comment, ok := findInfoComment(body); ok {
				cs.comment = comment
			}
			if err != nil {
				return cs, nil
			}
			if size%2 == 1 {
				if _, err := r.Seek(1, io.SeekCurrent); err != nil {
					return cs, nil
				}
			}
		default:
			if _, err := r.Seek(padded, io.SeekCurrent); err != nil {
				return cs, nil
			}
		}
	}
	return cs, nil
}

// findInfoComment returns the ICMT sub-chunk of a LIST/INFO body.
func findInfoComment(body []byte) (string, bool) {
	if len(body) < 4 || string(body[0:4]) != "INFO" {
		return "", false
	}
	offset := 4
	for offset+8 <= len(body) {
		subID := string(body[offset : offset+4])
		subSize := int(binary.LittleEndian.Uint32(body[offset+4 : offset+8]))
		start := offset + 8
		end := min(start+subSize, len(body))
		if subID == "ICMT" {
			return cleanText(body[start:end]), true
		}
		offset = start + subSize + subSize%2
	}
	return "", false
}

// cleanText strips NUL padding and replaces bytes outside printable ASCII.
func cleanText(b []byte) string {
	b = bytes.TrimRight(b, "\x00")
	out := make([]byte, len(b))
	for i, c := range b {
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c < 0x7f) {
			out[i] = c
		} else {
			out[i] = '?'
		}
	}
	return string(out)
}
