package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWAVFinalizeRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice_test.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer file.Close()

	if err := writeWAVHeader(file, 0); err != nil {
		t.Fatalf("write header: %v", err)
	}
	pcm := make([]byte, 32000) // one second at the capture byte rate
	if _, err := file.Write(pcm); err != nil {
		t.Fatalf("write data: %v", err)
	}
	if err := finalizeWAV(file, int64(len(pcm))); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	info, err := parseWAV(raw)
	if err != nil {
		t.Fatalf("parse finalized clip: %v", err)
	}
	if info.dataSize != len(pcm) {
		t.Errorf("data size = %d, want %d", info.dataSize, len(pcm))
	}
	if info.dataOffset != wavHeaderSize {
		t.Errorf("data offset = %d, want %d", info.dataOffset, wavHeaderSize)
	}
	if info.duration() != time.Second {
		t.Errorf("duration = %v, want 1s", info.duration())
	}
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	for _, raw := range [][]byte{
		nil,
		[]byte("short"),
		bytes.Repeat([]byte{0}, 64),
		[]byte("RIFFxxxxMP3 " + string(bytes.Repeat([]byte{0}, 64))),
	} {
		if _, err := parseWAV(raw); err == nil {
			t.Errorf("parseWAV accepted %d bytes of garbage", len(raw))
		}
	}
}

func TestParseWAVSkipsForeignChunks(t *testing.T) {
	// Some encoders insert a LIST chunk between fmt and data.
	var buf bytes.Buffer
	if err := writeWAVHeader(&buf, 0); err != nil {
		t.Fatalf("write header: %v", err)
	}
	base := buf.Bytes()[:36] // RIFF header + fmt chunk, without the data chunk

	clip := append([]byte{}, base...)
	clip = append(clip, "LIST"...)
	clip = appendUint32(clip, 4)
	clip = append(clip, "INFO"...)
	clip = append(clip, "data"...)
	clip = appendUint32(clip, 320)
	clip = append(clip, make([]byte, 320)...)

	info, err := parseWAV(clip)
	if err != nil {
		t.Fatalf("parse clip with LIST chunk: %v", err)
	}
	if info.dataSize != 320 {
		t.Errorf("data size = %d, want 320", info.dataSize)
	}
}

func appendUint32(b []byte, v uint32) []byte {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], v)
	return append(b, scratch[:]...)
}
