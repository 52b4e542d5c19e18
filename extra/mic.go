//go:build extra
// +build extra

package extra

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// MicSource reads 16-bit mono PCM from the default input device.
type MicSource struct {
	logger     *slog.Logger
	sampleRate int

	mu     sync.Mutex
	stream *portaudio.Stream
	quit   chan struct{}
	done   chan struct{}
}

func NewMicSource(logger *slog.Logger, sampleRate int) *MicSource {
	return &MicSource{logger: logger, sampleRate: sampleRate}
}

func (m *MicSource) Start(push func(chunk []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init failed: %w", err)
	}
	in := make([]int16, 64)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), len(in), in)
	if err != nil {
		if paErr := portaudio.Terminate(); paErr != nil {
			return fmt.Errorf("failed to open microphone: %w; terminate error: %w", err, paErr)
		}
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("failed to start microphone: %w", err)
	}
	m.stream = stream
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	go m.read(stream, in, push, m.quit, m.done)
	return nil
}

func (m *MicSource) read(stream *portaudio.Stream, in []int16, push func([]byte), quit, done chan struct{}) {
	defer close(done)
	var buf bytes.Buffer
	for {
		select {
		case <-quit:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			m.logger.Error("reading stream", "error", err)
			return
		}
		buf.Reset()
		if err := binary.Write(&buf, binary.LittleEndian, in); err != nil {
			m.logger.Error("writing to buffer", "error", err)
			return
		}
		push(buf.Bytes())
	}
}

func (m *MicSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	close(m.quit)
	<-m.done
	err := m.stream.Stop()
	if cerr := m.stream.Close(); err == nil {
		err = cerr
	}
	m.stream = nil
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}
