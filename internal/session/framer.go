package session

// maxFrameLength is the hard ceiling on a single frame's payload size:
// 10,000,000 bytes is accepted, 10,000,001 is rejected.
const maxFrameLength = 10_000_000

// framer accumulates raw bytes read off a connection and extracts
// complete 2-byte-big-endian-length-prefixed frames. A length
// exceeding maxFrameLength discards everything accumulated so far —
// the stream is treated as desynchronized rather than attempting
// resynchronization.
type framer struct {
	acc []byte
}

// feed appends chunk to the accumulator and returns every complete
// frame payload it can extract. Zero-length frames consume their
// header but produce no payload.
func (f *framer) feed(chunk []byte) [][]byte {
	f.acc = append(f.acc, chunk...)

	var frames [][]byte
	for {
		if len(f.acc) < 2 {
			break
		}
		length := int(f.acc[0])<<8 | int(f.acc[1])
		if length == 0 {
			f.acc = f.acc[2:]
			continue
		}
		if length > maxFrameLength {
			f.acc = nil
			break
		}
		if len(f.acc) < 2+length {
			break
		}
		payload := make([]byte, length)
		copy(payload, f.acc[2:2+length])
		frames = append(frames, payload)
		f.acc = f.acc[2+length:]
	}
	return frames
}

// encodeFrame prepends payload with its 2-byte big-endian length.
func encodeFrame(payload []byte) []byte {
	out := make([]byte, 2+len(payload))
	out[0] = byte(len(payload) >> 8)
	out[1] = byte(len(payload))
	copy(out[2:], payload)
	return out
}
