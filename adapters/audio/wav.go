package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// Canonical 44-byte PCM WAV header. The two size fields are patched in at
// finalize time once the data length is known.

const wavHeaderSize = 44

func writeWAVHeader(w io.Writer, dataSize uint32) error {
	byteRate := uint32(captureSampleRate * captureChannels * captureBitsPerSample / 8)
	blockAlign := uint16(captureChannels * captureBitsPerSample / 8)

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(header[22:24], captureChannels)
	binary.LittleEndian.PutUint32(header[24:28], captureSampleRate)
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], captureBitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	_, err := w.Write(header)
	return err
}

// finalizeWAV patches the RIFF and data chunk sizes after capture.
func finalizeWAV(file *os.File, dataSize int64) error {
	var sizes [4]byte
	binary.LittleEndian.PutUint32(sizes[:], uint32(36+dataSize))
	if _, err := file.WriteAt(sizes[:], 4); err != nil {
		return fmt.Errorf("finalize recording: %w", err)
	}
	binary.LittleEndian.PutUint32(sizes[:], uint32(dataSize))
	if _, err := file.WriteAt(sizes[:], 40); err != nil {
		return fmt.Errorf("finalize recording: %w", err)
	}
	return file.Sync()
}

// wavInfo is the decoded shape of a clip.
type wavInfo struct {
	sampleRate uint32
	byteRate   uint32
	dataOffset int
	dataSize   int
}

func (w wavInfo) duration() time.Duration {
	if w.byteRate == 0 {
		return 0
	}
	return time.Duration(float64(w.dataSize) / float64(w.byteRate) * float64(time.Second))
}

// parseWAV reads the header of a PCM WAV clip and locates the data chunk.
func parseWAV(data []byte) (wavInfo, error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return wavInfo{}, fmt.Errorf("not a WAV clip")
	}

	info := wavInfo{}
	// Walk chunks; encoders are free to insert LIST/fact chunks before data.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return wavInfo{}, fmt.Errorf("truncated fmt chunk")
			}
			info.sampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			info.byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if body+chunkSize > len(data) {
				chunkSize = len(data) - body
			}
			info.dataOffset = body
			info.dataSize = chunkSize
			if info.byteRate == 0 {
				return wavInfo{}, fmt.Errorf("data chunk before fmt chunk")
			}
			return info, nil
		}
		if chunkSize%2 == 1 {
			chunkSize++
		}
		offset = body + chunkSize
	}
	return wavInfo{}, fmt.Errorf("no data chunk")
}
