// Package events defines the typed turn-taking event contract.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - user_input.*
//   - turn_state.*
//   - assistant_playback.*
//   - session.*
//   - engine.*
//
// Semantics used across the package:
//
//   - Updated: mutable point-in-time snapshot that can change over time.
//   - Final: terminal immutable text for the current utterance piece.
//   - Ended: lifecycle boundary indicating stream completion.
//
// user_input events
//
//   - UserSpeechStarted (user_input.speech_started): speech activity began.
//   - UserSpeechEnded (user_input.speech_ended): speech activity ended.
//   - UserTranscriptInterimUpdated (user_input.transcript_interim_updated):
//     mutable interim transcript snapshot.
//   - UserTranscriptFinal (user_input.transcript_final): finalized transcript
//     piece, with the turn buffer accumulated so far.
//   - UserSilenceDetected (user_input.silence_detected): the user stayed
//     silent past the end-of-turn threshold.
//   - UserInterruptionNeeded (user_input.interruption_needed): the silence
//     outlasted the interruption threshold.
//
// turn_state events
//
//   - TurnStateChanged (turn_state.changed): controller transition.
//   - TurnSubmitted (turn_state.submitted): user turn sent to the service.
//   - TurnBargeIn (turn_state.barge_in): user speech cut the machine off.
//   - TurnCompleted (turn_state.completed): machine turn finished playing.
//
// assistant_playback events
//
//   - AssistantPlaybackStarted (assistant_playback.started): playback started.
//   - AssistantPlaybackSegmentPlayed (assistant_playback.segment_played): a
//     queued segment finished playing.
//   - AssistantPlaybackEnded (assistant_playback.ended): the queue drained or
//     was cleared.
//
// session events
//
//   - SessionStateChanged (session.state_changed): session client transition.
//   - SessionResponse (session.response): remote response milestone.
//
// engine events
//
//   - EngineError (engine.error): surfaced failure.
package events
