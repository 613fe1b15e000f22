package orchestration

import "github.com/koscakluka/ema-voice/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

type callbackOptions struct {
	onStateChanged         func(from, to TurnState)
	onInterimTranscription func(string)
	onTranscription        func(string)
	onTurnSubmitted        func(string)
	onError                func(error)
}

func newCallbackEventEmitter(opts callbackOptions) eventEmitter {
	return func(event events.Event) {
		switch typedEvent := event.(type) {
		case events.TurnStateChanged:
			if opts.onStateChanged != nil {
				opts.onStateChanged(parseTurnState(typedEvent.From), parseTurnState(typedEvent.To))
			}
		case events.UserTranscriptInterimUpdated:
			if opts.onInterimTranscription != nil {
				opts.onInterimTranscription(typedEvent.Transcript)
			}
		case events.UserTranscriptFinal:
			if opts.onTranscription != nil {
				opts.onTranscription(typedEvent.Transcript)
			}
		case events.TurnSubmitted:
			if opts.onTurnSubmitted != nil {
				opts.onTurnSubmitted(typedEvent.Text)
			}
		case events.EngineError:
			if opts.onError != nil {
				opts.onError(typedEvent.Err)
			}
		}
	}
}

func chainEmitters(emitters ...eventEmitter) eventEmitter {
	return func(event events.Event) {
		for _, emit := range emitters {
			emit(event)
		}
	}
}

func parseTurnState(name string) TurnState {
	for _, state := range []TurnState{StateIdle, StateListening, StateUserSpeaking, StateAwaitingResponse, StateMachineSpeaking} {
		if state.String() == name {
			return state
		}
	}
	return StateIdle
}
