// Package realtime is the streaming session client for a remote
// conversational service speaking the OpenAI Realtime protocol.
//
// A Client owns at most one connection at a time and moves through
// idle → connecting → open → closing → closed, or into failed from any
// non-closed state. It never reconnects on its own.
package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/playback"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultURL = "wss://api.openai.com/v1/realtime"

	defaultSetupTimeout     = 10 * time.Second
	defaultCloseGracePeriod = 2 * time.Second
)

type Client struct {
	url              string
	dialer           Dialer
	tokens           TokenSource
	setupTimeout     time.Duration
	closeGracePeriod time.Duration
	onEvent          func(Event)
	onStateChanged   func(State)
	newID            func() string
	now              func() time.Time

	mu         sync.Mutex
	state      State
	session    *Session
	transport  Transport
	readerDone chan struct{}

	// pendingResponse is set between response.create and response.created.
	pendingResponse    bool
	cancelPending      bool
	activeResponseID   string
	cancelledResponses map[string]struct{}
	sequences          map[string]int
}

type Option func(*Client)

func WithURL(rawURL string) Option {
	return func(c *Client) { c.url = rawURL }
}

func WithDialer(dialer Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

func WithTokenSource(tokens TokenSource) Option {
	return func(c *Client) { c.tokens = tokens }
}

// WithSetupTimeout bounds dialing plus waiting for session.created.
func WithSetupTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.setupTimeout = timeout }
}

func WithCloseGracePeriod(period time.Duration) Option {
	return func(c *Client) { c.closeGracePeriod = period }
}

// WithEventHandler registers the receiver of classified inbound events.
// It is called from a single goroutine in arrival order.
func WithEventHandler(handler func(Event)) Option {
	return func(c *Client) { c.onEvent = handler }
}

func WithStateCallback(callback func(State)) Option {
	return func(c *Client) { c.onStateChanged = callback }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		url:                DefaultURL,
		dialer:             WebsocketDialer{},
		tokens:             StaticToken(""),
		setupTimeout:       defaultSetupTimeout,
		closeGracePeriod:   defaultCloseGracePeriod,
		onEvent:            func(Event) {},
		onStateChanged:     func(State) {},
		newID:              uuid.NewString,
		now:                time.Now,
		cancelledResponses: map[string]struct{}{},
		sequences:          map[string]int{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the current session, or nil before the first successful
// connect.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	session := *c.session
	return &session
}

// Connect opens a new session. It is valid from idle, closed and failed.
// On success the client is open and the session has been configured.
func (c *Client) Connect(ctx context.Context, config SessionConfig) (err error) {
	ctx, span := tracer.Start(ctx, "connect realtime session")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := config.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.state.canConnect() {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect from %s", ErrInvalidState, state)
	}
	c.state = StateConnecting
	c.session = nil
	c.transport = nil
	c.readerDone = nil
	c.pendingResponse = false
	c.cancelPending = false
	c.activeResponseID = ""
	c.cancelledResponses = map[string]struct{}{}
	c.sequences = map[string]int{}
	c.mu.Unlock()
	c.onStateChanged(StateConnecting)

	setupCtx, cancel := context.WithTimeout(ctx, c.setupTimeout)
	defer cancel()

	token, err := c.tokens.Token(setupCtx)
	if err != nil {
		return c.fail(nil, &ConnectionError{Op: "authenticate", Err: err})
	}

	endpoint, err := c.endpoint(config.Model)
	if err != nil {
		return c.fail(nil, &ConnectionError{Op: "dial", Err: err})
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("OpenAI-Beta", "realtime=v1")

	transport, err := c.dialer.Dial(setupCtx, endpoint, header)
	if err != nil {
		return c.fail(nil, &ConnectionError{Op: "dial", Err: err})
	}

	created, err := awaitSessionCreated(setupCtx, transport)
	if err != nil {
		return c.fail(transport, &ConnectionError{Op: "handshake", Err: err})
	}

	session, err := newSession(c.newID(), created.Session.ID, created.Session.Model, config, c.now())
	if err != nil {
		return c.fail(transport, &ConnectionError{Op: "handshake", Err: err})
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Close was called while connecting.
		c.mu.Unlock()
		_ = transport.Close()
		return ErrClosed
	}
	c.state = StateOpen
	c.session = session
	c.transport = transport
	c.readerDone = make(chan struct{})
	readerDone := c.readerDone
	c.mu.Unlock()
	c.onStateChanged(StateOpen)

	span.SetAttributes(
		attribute.String("session.id", session.ID),
		attribute.String("session.service_id", session.ServiceID),
	)

	go c.readLoop(transport, session.ID, readerDone)

	if err := c.send(sessionUpdateEvent{
		clientEvent: c.clientEvent(typeSessionUpdate),
		Session:     config.wire(),
	}); err != nil {
		return c.fail(transport, &ConnectionError{Op: "configure", Err: err})
	}

	logger.Info("realtime session open",
		"session_id", session.ID,
		"service_session_id", session.ServiceID,
		"sample_rate", config.SampleRate)
	return nil
}

// SendAudioFrame appends a captured frame to the service's input buffer.
func (c *Client) SendAudioFrame(frame audio.Frame) error {
	return c.send(inputAudioBufferAppendEvent{
		clientEvent: c.clientEvent(typeInputAudioBufferAppend),
		Audio:       base64.StdEncoding.EncodeToString(frame.Data),
	})
}

// SendText submits a finished user turn and asks for a response.
func (c *Client) SendText(text string) error {
	if err := c.send(conversationItemCreateEvent{
		clientEvent: c.clientEvent(typeConversationItemCreate),
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []conversationContent{{Type: "input_text", Text: text}},
		},
	}); err != nil {
		return fmt.Errorf("failed to create conversation item: %w", err)
	}

	return c.RequestResponse()
}

// RequestResponse asks the service to respond to the conversation so far.
func (c *Client) RequestResponse() error {
	c.mu.Lock()
	var modalities []string
	if c.session != nil {
		modalities = c.session.Config.Modalities
	}
	// Marked before sending: response.created may be read before the write
	// returns.
	c.pendingResponse = true
	c.mu.Unlock()

	if err := c.send(responseCreateEvent{
		clientEvent: c.clientEvent(typeResponseCreate),
		Response:    &responseConfig{Modalities: modalities},
	}); err != nil {
		c.mu.Lock()
		c.pendingResponse = false
		c.cancelPending = false
		c.mu.Unlock()
		return fmt.Errorf("failed to request response: %w", err)
	}
	return nil
}

// CancelResponse stops the in-flight response. Audio that still arrives
// for it is discarded. A response that was requested but not yet created
// is cancelled as soon as it is.
func (c *Client) CancelResponse() error {
	c.mu.Lock()
	responseID := c.activeResponseID
	switch {
	case responseID != "":
		c.cancelledResponses[responseID] = struct{}{}
		c.activeResponseID = ""
	case c.pendingResponse:
		c.cancelPending = true
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.send(responseCancelEvent{
		clientEvent: c.clientEvent(typeResponseCancel),
		ResponseID:  responseID,
	}); err != nil {
		return fmt.Errorf("failed to cancel response: %w", err)
	}
	return nil
}

// Close ends the session. It is valid from every state except closed and
// returns once the transport confirmed closure or the grace period ran out.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return fmt.Errorf("%w: close from %s", ErrInvalidState, StateClosed)
	}
	c.state = StateClosing
	transport := c.transport
	readerDone := c.readerDone
	c.mu.Unlock()
	c.onStateChanged(StateClosing)

	if transport != nil {
		if err := transport.CloseGracefully(); err != nil {
			logger.Debug("failed to send close frame", "error", err)
		}

		if readerDone != nil {
			timer := time.NewTimer(c.closeGracePeriod)
			select {
			case <-readerDone:
			case <-timer.C:
				logger.Debug("realtime close grace period elapsed")
			case <-ctx.Done():
			}
			timer.Stop()
		}
		_ = transport.Close()
	}

	c.setState(StateClosed)
	return nil
}

func (c *Client) endpoint(model string) (string, error) {
	endpoint, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	if model != "" {
		query := endpoint.Query()
		query.Set("model", model)
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}

func (c *Client) clientEvent(eventType string) clientEvent {
	return clientEvent{EventID: "evt_" + c.newID(), Type: eventType}
}

func (c *Client) send(message any) error {
	c.mu.Lock()
	if c.state != StateOpen {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotOpen, state)
	}
	transport := c.transport
	c.mu.Unlock()

	return transport.WriteJSON(message)
}

// fail moves the client to failed unless it was closed meanwhile.
func (c *Client) fail(transport Transport, err error) error {
	if transport != nil {
		_ = transport.Close()
	}

	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return err
	}
	c.state = StateFailed
	c.mu.Unlock()

	logger.Error("realtime session failed", "error", err)
	c.onStateChanged(StateFailed)
	return err
}

func (c *Client) setState(state State) bool {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return false
	}
	c.state = state
	c.mu.Unlock()

	c.onStateChanged(state)
	return true
}

func awaitSessionCreated(ctx context.Context, transport Transport) (*sessionCreatedEvent, error) {
	type result struct {
		created *sessionCreatedEvent
		err     error
	}
	results := make(chan result, 1)

	go func() {
		for {
			data, err := transport.ReadMessage()
			if err != nil {
				results <- result{err: err}
				return
			}

			event, err := parseServerEvent(data)
			if err != nil {
				logger.Warn("ignoring malformed message during handshake", "error", err)
				continue
			}
			switch event := event.(type) {
			case *sessionCreatedEvent:
				results <- result{created: event}
				return
			case *errorEvent:
				results <- result{err: &ServiceError{Type: event.Error.Type, Code: event.Error.Code, Message: event.Error.Message}}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		// Closing the transport unblocks the reader above.
		_ = transport.Close()
		return nil, fmt.Errorf("waiting for session.created: %w", ctx.Err())
	case result := <-results:
		return result.created, result.err
	}
}

func (c *Client) readLoop(transport Transport, sessionID string, done chan struct{}) {
	defer close(done)

	for {
		data, err := transport.ReadMessage()
		if err != nil {
			c.handleReadError(transport, sessionID, err)
			return
		}
		c.dispatch(sessionID, data)
	}
}

func (c *Client) handleReadError(transport Transport, sessionID string, err error) {
	c.mu.Lock()
	if c.transport != transport {
		c.mu.Unlock()
		return
	}
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateClosing, StateClosed:
		c.onEvent(Event{Kind: EventConnectionClosed, SessionID: sessionID})
	default:
		connErr := &ConnectionError{Op: "read", Err: err}
		if isNormalClosure(err) {
			connErr.Op = "remote close"
		}
		_ = c.fail(transport, connErr)
		c.onEvent(Event{Kind: EventConnectionClosed, SessionID: sessionID, Err: connErr})
	}
}

func (c *Client) dispatch(sessionID string, data []byte) {
	parsed, err := parseServerEvent(data)
	if err != nil {
		logger.Warn("ignoring malformed realtime message", "error", &ProtocolError{Err: err})
		return
	}

	switch event := parsed.(type) {
	case *transcriptionDeltaEvent:
		c.onEvent(Event{Kind: EventInterimTranscript, SessionID: sessionID, Text: event.Delta})

	case *transcriptionCompletedEvent:
		c.onEvent(Event{Kind: EventFinalTranscript, SessionID: sessionID, Text: event.Transcript})

	case *responseCreatedEvent:
		c.handleResponseCreated(sessionID, event.Response.ID)

	case *responseAudioDeltaEvent:
		c.mu.Lock()
		if _, cancelled := c.cancelledResponses[event.ResponseID]; cancelled {
			c.mu.Unlock()
			return
		}
		c.sequences[event.ResponseID]++
		sequence := c.sequences[event.ResponseID]
		c.mu.Unlock()

		c.onEvent(Event{
			Kind:       EventAudioSegment,
			SessionID:  sessionID,
			ResponseID: event.ResponseID,
			Segment: playback.Segment{
				ResponseID: event.ResponseID,
				Sequence:   sequence,
				Payload:    event.Delta,
			},
		})

	case *responseAudioDoneEvent:
		if c.isCancelled(event.ResponseID) {
			return
		}
		c.onEvent(Event{Kind: EventResponseComplete, SessionID: sessionID, ResponseID: event.ResponseID})

	case *responseDoneEvent:
		c.mu.Lock()
		_, cancelled := c.cancelledResponses[event.Response.ID]
		delete(c.cancelledResponses, event.Response.ID)
		delete(c.sequences, event.Response.ID)
		if c.activeResponseID == event.Response.ID {
			c.activeResponseID = ""
		}
		c.mu.Unlock()
		if cancelled {
			return
		}
		c.onEvent(Event{Kind: EventResponseDone, SessionID: sessionID, ResponseID: event.Response.ID, Text: event.Response.Status})

	case *errorEvent:
		c.onEvent(Event{
			Kind:      EventError,
			SessionID: sessionID,
			Err:       &ServiceError{Type: event.Error.Type, Code: event.Error.Code, Message: event.Error.Message},
		})

	case *serverEvent:
		switch event.Type {
		case typeSpeechStarted:
			c.onEvent(Event{Kind: EventSpeechStarted, SessionID: sessionID})
		case typeSpeechStopped:
			c.onEvent(Event{Kind: EventSpeechStopped, SessionID: sessionID})
		case typeSessionUpdated:
			logger.Debug("realtime session configured", "session_id", sessionID)
		case typeTranscriptionFailed:
			logger.Warn("input transcription failed", "session_id", sessionID)
		default:
			logger.Debug("ignoring realtime message", "type", event.Type)
		}
	}
}

func (c *Client) handleResponseCreated(sessionID, responseID string) {
	c.mu.Lock()
	c.pendingResponse = false
	cancelNow := c.cancelPending
	c.cancelPending = false
	if cancelNow {
		c.cancelledResponses[responseID] = struct{}{}
	} else {
		c.activeResponseID = responseID
	}
	c.mu.Unlock()

	if cancelNow {
		if err := c.send(responseCancelEvent{
			clientEvent: c.clientEvent(typeResponseCancel),
			ResponseID:  responseID,
		}); err != nil && !errors.Is(err, ErrNotOpen) {
			logger.Warn("failed to cancel response", "response_id", responseID, "error", err)
		}
		return
	}

	c.onEvent(Event{Kind: EventResponseCreated, SessionID: sessionID, ResponseID: responseID})
}

func (c *Client) isCancelled(responseID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, cancelled := c.cancelledResponses[responseID]
	return cancelled
}
