// Package google is a streaming recognizer backed by Google Cloud
// Speech-to-Text.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/speechtotext"
)

// Stream is the subset of the StreamingRecognize client the recognizer uses.
type Stream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type streamOpener func(ctx context.Context) (Stream, error)

type Recognizer struct {
	languageCode string
	model        string
	open         streamOpener
	client       *speech.Client

	mu     sync.Mutex
	stream Stream
	cancel context.CancelFunc
}

type Option func(*Recognizer)

func WithLanguageCode(languageCode string) Option {
	return func(r *Recognizer) { r.languageCode = languageCode }
}

func WithModel(model string) Option {
	return func(r *Recognizer) { r.model = model }
}

// New creates a recognizer using application default credentials.
func New(ctx context.Context, opts ...Option) (*Recognizer, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	r := newRecognizer(func(ctx context.Context) (Stream, error) {
		return client.StreamingRecognize(ctx)
	}, opts...)
	r.client = client
	return r, nil
}

func newRecognizer(open streamOpener, opts ...Option) *Recognizer {
	r := &Recognizer{languageCode: "en-US", open: open}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recognizer) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	options := speechtotext.NewTranscriptionOptions(opts...)

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := r.open(streamCtx)
	if err != nil {
		cancel()
		return classify(fmt.Errorf("failed to open recognition stream: %w", err))
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(options.EncodingInfo.SampleRate),
					AudioChannelCount:          1,
					LanguageCode:               r.languageCode,
					Model:                      r.model,
					EnableAutomaticPunctuation: true,
				},
				InterimResults:            options.InterimTranscriptionCallback != nil || options.PartialInterimTranscriptionCallback != nil,
				EnableVoiceActivityEvents: options.SpeechStartedCallback != nil || options.SpeechEndedCallback != nil,
			},
		},
	}); err != nil {
		cancel()
		return classify(fmt.Errorf("failed to send streaming config: %w", err))
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.stream = stream
	r.cancel = cancel
	r.mu.Unlock()

	go r.listen(streamCtx, stream, options)
	return nil
}

func (r *Recognizer) SendAudio(audio []byte) error {
	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()

	if stream == nil {
		return speechtotext.ErrNotStarted
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: audio},
	}); err != nil {
		return classify(fmt.Errorf("failed to send audio: %w", err))
	}
	return nil
}

// Close half-closes the stream so remaining results are still received.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()

	if stream == nil {
		return nil
	}
	return stream.CloseSend()
}

// Shutdown closes the stream and releases the underlying gRPC client.
func (r *Recognizer) Shutdown() error {
	err := r.Close()

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	if r.client != nil {
		err = errors.Join(err, r.client.Close())
	}
	return err
}

func (r *Recognizer) listen(ctx context.Context, stream Stream, options speechtotext.TranscriptionOptions) {
	defer func() {
		r.mu.Lock()
		if r.stream == stream {
			r.stream = nil
		}
		r.mu.Unlock()
	}()

	var accumulated []string
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			err = classify(err)
			if options.ErrorCallback != nil {
				options.ErrorCallback(err)
			} else {
				logger.Warn("recognition stream failed", "error", err)
			}
			return
		}

		if resp.Error != nil {
			err := classify(status.ErrorProto(resp.Error))
			if options.ErrorCallback != nil {
				options.ErrorCallback(err)
			}
			continue
		}

		switch resp.SpeechEventType {
		case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_BEGIN:
			if options.SpeechStartedCallback != nil {
				options.SpeechStartedCallback()
			}
		case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_END,
			speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE:
			if options.TranscriptionCallback != nil && len(accumulated) > 0 {
				options.TranscriptionCallback(strings.Join(accumulated, " "))
			}
			accumulated = nil
			if options.SpeechEndedCallback != nil {
				options.SpeechEndedCallback()
			}
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			transcript := strings.TrimSpace(result.Alternatives[0].Transcript)
			if transcript == "" {
				continue
			}

			if result.IsFinal {
				accumulated = append(accumulated, transcript)
				if options.PartialTranscriptionCallback != nil {
					options.PartialTranscriptionCallback(transcript)
				}
				continue
			}

			if options.PartialInterimTranscriptionCallback != nil {
				options.PartialInterimTranscriptionCallback(transcript)
			} else if options.InterimTranscriptionCallback != nil {
				options.InterimTranscriptionCallback(strings.Join(append(accumulated[:len(accumulated):len(accumulated)], transcript), " "))
			}
		}
	}
}

// classify marks stream limits and no-speech timeouts as transient.
func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.DeadlineExceeded, codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return &speechtotext.RecognitionTransientError{Reason: st.Code().String(), Err: err}
	case codes.OutOfRange, codes.InvalidArgument:
		if strings.Contains(strings.ToLower(st.Message()), "exceeded maximum allowed stream duration") ||
			strings.Contains(strings.ToLower(st.Message()), "audio timeout") {
			return &speechtotext.RecognitionTransientError{Reason: "stream limit", Err: err}
		}
	}
	return err
}

func convertEncoding(encoding audio.EncodingInfo) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding.Format {
	case audio.EncodingLinear16:
		return speechpb.RecognitionConfig_LINEAR16, nil
	case audio.EncodingMulaw:
		return speechpb.RecognitionConfig_MULAW, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding %q", encoding.Format)
	}
}
