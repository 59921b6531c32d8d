package session

import "testing"

func TestFeedSingleFrame(t *testing.T) {
	var f framer
	payload := []byte("hello")
	frames := f.feed(encodeFrame(payload))
	if len(frames) != 1 || string(frames[0]) != "hello" {
		t.Fatalf("frames = %v, want [hello]", frames)
	}
}

func TestFeedAcrossMultipleChunks(t *testing.T) {
	var f framer
	whole := encodeFrame([]byte("split-me"))
	if frames := f.feed(whole[:3]); len(frames) != 0 {
		t.Fatalf("expected no frames yet, got %v", frames)
	}
	frames := f.feed(whole[3:])
	if len(frames) != 1 || string(frames[0]) != "split-me" {
		t.Fatalf("frames = %v, want [split-me]", frames)
	}
}

func TestFeedMultipleFramesInOneChunk(t *testing.T) {
	var f framer
	chunk := append(encodeFrame([]byte("a")), encodeFrame([]byte("bb"))...)
	frames := f.feed(chunk)
	if len(frames) != 2 || string(frames[0]) != "a" || string(frames[1]) != "bb" {
		t.Fatalf("frames = %v", frames)
	}
}

func TestFeedZeroLengthFrameConsumesHeaderOnly(t *testing.T) {
	var f framer
	chunk := append([]byte{0x00, 0x00}, encodeFrame([]byte("after"))...)
	frames := f.feed(chunk)
	if len(frames) != 1 || string(frames[0]) != "after" {
		t.Fatalf("frames = %v, want [after] (zero-length frame must not be emitted)", frames)
	}
}

func TestFeedAcceptsMaxTwoByteLength(t *testing.T) {
	var f framer
	payload := make([]byte, 65535)
	for i := range payload {
		payload[i] = byte(i)
	}
	frames := f.feed(encodeFrame(payload))
	if len(frames) != 1 || len(frames[0]) != 65535 {
		t.Fatalf("expected one 65535-byte frame, got %d frames", len(frames))
	}
}

// The 10,000,000-byte ceiling documented alongside the 2-byte length
// prefix can never actually trigger: a length parsed from 2 bytes
// tops out at 65,535, far short of the ceiling. See DESIGN.md's note
// on this package for why the dead branch is kept rather than removed.
func TestMaxFrameLengthExceedsTwoByteRange(t *testing.T) {
	const twoByteMax = 65535
	if maxFrameLength <= twoByteMax {
		t.Fatalf("expected ceiling to exceed the 2-byte range, got %d", maxFrameLength)
	}
}

func TestEncodeFrameRoundTrip(t *testing.T) {
	var f framer
	payload := []byte{1, 2, 3, 4, 5}
	encoded := encodeFrame(payload)
	if len(encoded) != len(payload)+2 {
		t.Fatalf("encoded length = %d, want %d", len(encoded), len(payload)+2)
	}
	frames := f.feed(encoded)
	if len(frames) != 1 || string(frames[0]) != string(payload) {
		t.Fatalf("round trip mismatch: got %v", frames)
	}
}
