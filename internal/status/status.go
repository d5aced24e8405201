package status

import (
	"errors"
	"sync"
)

// Stage is one named phase of the startup sequence.
type Stage string

const (
	StageStarting          Stage = "starting"
	StageStartingOllama    Stage = "starting_ollama"
	StageCheckingModels    Stage = "checking_models"
	StageDownloadingModel  Stage = "downloading_model"
	StageStartingBackend   Stage = "starting_backend"
	StageWaitingForBackend Stage = "waiting_for_backend"
	StageReady             Stage = "ready"
	StageError             Stage = "error"
)

// Stages lists every phase in forward order. checking_models and
// downloading_model share a rank and may alternate.
var Stages = []Stage{
	StageStarting,
	StageStartingOllama,
	StageCheckingModels,
	StageDownloadingModel,
	StageStartingBackend,
	StageWaitingForBackend,
	StageReady,
	StageError,
}

var (
	ErrBackward     = errors.New("stage transition moves backward")
	ErrTerminal     = errors.New("stage is terminal")
	ErrUnknownStage = errors.New("unknown stage")
)

// Rank returns the position of s in the forward order, or -1 for an unknown stage.
func (s Stage) Rank() int {
	switch s {
	case StageStarting:
		return 0
	case StageStartingOllama:
		return 1
	case StageCheckingModels, StageDownloadingModel:
		return 2
	case StageStartingBackend:
		return 3
	case StageWaitingForBackend:
		return 4
	case StageReady, StageError:
		return 5
	default:
		return -1
	}
}

func (s Stage) Valid() bool    { return s.Rank() >= 0 }
func (s Stage) Terminal() bool { return s == StageReady || s == StageError }
func (s Stage) String() string { return string(s) }

// Record is the externally visible startup status.
type Record struct {
	Stage     Stage  `json:"stage"`
	Message   string `json:"message"`
	LastError string `json:"last_error,omitempty"`
}

// Observer is called after every stage change, outside of the store lock.
// Observers must not block.
type Observer func(from, to Stage)

// Store holds the status record and ready flag behind a single mutex.
// Readers copy under lock; no lock is ever held across I/O.
type Store struct {
	mu        sync.Mutex
	rec       Record
	ready     bool
	observers []Observer
	subs      map[int]chan Record
	nextSub   int
}

// New returns a store in the starting stage.
func New() *Store {
	return &Store{
		rec: Record{
			Stage:   StageStarting,
			Message: "Initializing backend services...",
		},
		subs: make(map[int]chan Record),
	}
}

// Observe registers fn to be called on every stage change.
func (s *Store) Observe(fn Observer) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current record.
func (s *Store) Snapshot() Record {
	s.mu.Lock()
	r := s.rec
	s.mu.Unlock()
	return r
}

// Ready reports whether the backend was observed healthy during this run.
func (s *Store) Ready() bool {
	s.mu.Lock()
	v := s.ready
	s.mu.Unlock()
	return v
}

// Set moves to stage with message, keeping last_error.
func (s *Store) Set(stage Stage, message string) error {
	return s.update(stage, func(r *Record) { r.Message = message })
}

// Begin moves to stage with message and clears last_error.
func (s *Store) Begin(stage Stage, message string) error {
	return s.update(stage, func(r *Record) {
		r.Message = message
		r.LastError = ""
	})
}

// Fail records cause as last_error without changing the stage.
func (s *Store) Fail(cause string) {
	s.mu.Lock()
	s.rec.LastError = cause
	r := s.rec
	s.mu.Unlock()
	s.publish(r)
}

// MarkReady sets the ready flag, moves to ready and clears last_error.
func (s *Store) MarkReady(message string) error {
	return s.update(StageReady, func(r *Record) {
		r.Message = message
		r.LastError = ""
		s.ready = true
	})
}

// Abort moves to the error stage and records cause.
func (s *Store) Abort(message, cause string) error {
	return s.update(StageError, func(r *Record) {
		r.Message = message
		r.LastError = cause
	})
}

func (s *Store) update(to Stage, apply func(*Record)) error {
	if !to.Valid() {
		return ErrUnknownStage
	}
	s.mu.Lock()
	from := s.rec.Stage
	if from.Terminal() {
		s.mu.Unlock()
		return ErrTerminal
	}
	if to.Rank() < from.Rank() {
		s.mu.Unlock()
		return ErrBackward
	}
	s.rec.Stage = to
	apply(&s.rec)
	r := s.rec
	obs := s.observers
	s.mu.Unlock()

	if from != to {
		for _, fn := range obs {
			fn(from, to)
		}
	}
	s.publish(r)
	return nil
}

// Subscribe returns a channel receiving every record written after the call,
// and a cancel function. Sends never block: a subscriber that falls behind
// misses intermediate records and should read Snapshot for the latest.
func (s *Store) Subscribe() (<-chan Record, func()) {
	ch := make(chan Record, 16)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- r:
		default:
		}
	}
}
