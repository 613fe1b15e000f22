package events

const KindEngineError Kind = "engine.error"

// EngineError surfaces a failure the engine could not absorb. Fatal is set
// when the controller went back to idle because of it.
type EngineError struct {
	Base
	Err   error
	Fatal bool
}

func NewEngineError(err error, fatal bool) EngineError {
	return EngineError{Base: NewBase(KindEngineError), Err: err, Fatal: fatal}
}
