package session

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"voxstream/audio"
)

const wavHeaderSize = 44

// wavWriter пишет моно PCM16 в WAV; заголовок обновляется при закрытии
type wavWriter struct {
	file       *os.File
	path       string
	sampleRate int
	written    int64
	err        error
}

func newWAVWriter(path string, sampleRate int) (*wavWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}
	w := &wavWriter{file: file, path: path, sampleRate: sampleRate}
	// placeholder, размер данных ещё неизвестен
	if err := w.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

func (w *wavWriter) writeHeader() error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	const channels, bits = 1, 16
	dataSize := uint32(w.written * audio.BytesPerSample)
	header := make([]byte, wavHeaderSize)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], 36+dataSize)
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:], channels)
	binary.LittleEndian.PutUint32(header[24:], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(header[28:], uint32(w.sampleRate*channels*bits/8))
	binary.LittleEndian.PutUint16(header[32:], channels*bits/8)
	binary.LittleEndian.PutUint16(header[34:], bits)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], dataSize)

	_, err := w.file.Write(header)
	return err
}

// write дописывает PCM16 блок как есть; первая ошибка запоминается
func (w *wavWriter) write(pcm []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.file.Write(pcm); err != nil {
		w.err = err
		return
	}
	w.written += int64(len(pcm) / audio.BytesPerSample)
}

func (w *wavWriter) duration() time.Duration {
	return time.Duration(w.written) * time.Second / time.Duration(w.sampleRate)
}

func (w *wavWriter) close() error {
	err := w.err
	if err == nil {
		err = w.writeHeader()
	}
	if cerr := w.file.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return nil
}
