package session

import (
	"fmt"
	"os"
	"time"

	"github.com/braheezy/shine-mp3/pkg/mp3"

	"voxstream/audio"
)

// shineBlock сэмплов на кадр MP3 Layer III (моно)
const shineBlock = 1152

// shineWriter пишет моно PCM16 в MP3 через shine-mp3 (чистый Go)
type shineWriter struct {
	file       *os.File
	encoder    *mp3.Encoder
	path       string
	sampleRate int

	// shine кодирует блоками по 1152 сэмпла
	buffer  []int16
	written int64
}

func newShineWriter(path string, sampleRate int) (*shineWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &shineWriter{
		file:       file,
		encoder:    mp3.NewEncoder(sampleRate, 1),
		path:       path,
		sampleRate: sampleRate,
		buffer:     make([]int16, 0, shineBlock*4),
	}, nil
}

// write добавляет PCM16 блок
func (w *shineWriter) write(pcm []byte) {
	w.buffer = append(w.buffer, audio.PCM16ToInt16(pcm)...)
	w.written += int64(len(pcm) / audio.BytesPerSample)

	if len(w.buffer) >= shineBlock*4 {
		full := len(w.buffer) / shineBlock * shineBlock
		w.encoder.Write(w.file, w.buffer[:full])
		w.buffer = append(w.buffer[:0], w.buffer[full:]...)
	}
}

func (w *shineWriter) duration() time.Duration {
	return time.Duration(w.written) * time.Second / time.Duration(w.sampleRate)
}

// close дописывает остаток, дополняя последний блок тишиной
func (w *shineWriter) close() error {
	if len(w.buffer) > 0 {
		for len(w.buffer)%shineBlock != 0 {
			w.buffer = append(w.buffer, 0)
		}
		w.encoder.Write(w.file, w.buffer)
		w.buffer = w.buffer[:0]
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}
