package portaudio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// CaptureDevice reads the default input with a blocking portaudio stream.
type CaptureDevice struct {
	bufferSize int

	mu     sync.Mutex
	stream *portaudio.Stream
	done   chan struct{}
	closed chan struct{}
}

// NewCaptureDevice initialises portaudio. bufferSize is in samples.
func NewCaptureDevice(bufferSize int) (*CaptureDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &CaptureDevice{bufferSize: bufferSize}, nil
}

func (c *CaptureDevice) Start(sampleRate int, onData func(pcm []byte), onError func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return fmt.Errorf("capture device already started")
	}

	in := make([]int16, c.bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), c.bufferSize, in)
	if err != nil {
		return fmt.Errorf("failed to open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	c.stream = stream
	c.done = make(chan struct{})
	c.closed = make(chan struct{})
	go c.read(stream, in, onData, onError, c.done, c.closed)
	return nil
}

func (c *CaptureDevice) read(stream *portaudio.Stream, in []int16, onData func([]byte), onError func(error), done, closed chan struct{}) {
	defer close(closed)

	buffer := make([]byte, len(in)*2)
	for {
		select {
		case <-done:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			select {
			case <-done:
			default:
				onError(fmt.Errorf("failed to read from portaudio stream: %w", err))
			}
			return
		}

		for i, sample := range in {
			binary.LittleEndian.PutUint16(buffer[i*2:], uint16(sample))
		}
		onData(buffer)
	}
}

func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	stream := c.stream
	if stream == nil {
		c.mu.Unlock()
		return nil
	}
	c.stream = nil
	close(c.done)
	closed := c.closed
	c.mu.Unlock()

	stopErr := stream.Stop()
	<-closed
	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to close portaudio stream: %w", err)
	}
	if stopErr != nil {
		return fmt.Errorf("failed to stop portaudio stream: %w", stopErr)
	}
	return nil
}

func (c *CaptureDevice) Close() error {
	if err := c.Stop(); err != nil {
		return err
	}
	return portaudio.Terminate()
}
