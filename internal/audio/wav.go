package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// Canonical container expected by the transcription backends: mono, 16-bit
// signed little-endian PCM at 16 kHz.
const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16

	// BytesPerSecond is the PCM data rate of the canonical format.
	BytesPerSecond = SampleRate * Channels * BitDepth / 8
)

// WindowBytes returns the window threshold for the given duration in seconds.
func WindowBytes(seconds int) int {
	return BytesPerSecond * seconds
}

// Duration converts a PCM byte count to seconds.
func Duration(pcmBytes int) float64 {
	return float64(pcmBytes) / float64(BytesPerSecond)
}

// EncodeWAV wraps raw PCM bytes in a RIFF/WAVE container.
func EncodeWAV(pcm []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	writeWAVHeader(buf, len(pcm))
	buf.Write(pcm)
	return buf.Bytes()
}

// WriteWAV writes raw PCM bytes to path as a WAV file, creating parent
// directories as needed. The write is a whole-file replace.
func WriteWAV(path string, pcm []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}

	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open wav output: %w", err)
	}
	defer func() { _ = out.Close() }()

	header := &bytes.Buffer{}
	writeWAVHeader(header, len(pcm))
	if _, err := out.Write(header.Bytes()); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := out.Write(pcm); err != nil {
		return fmt.Errorf("write wav payload: %w", err)
	}
	return nil
}

func writeWAVHeader(buf *bytes.Buffer, dataSize int) {
	byteRate := BytesPerSecond
	blockAlign := Channels * BitDepth / 8

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(BitDepth))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataSize))
}
