package infer

import (
	"errors"
	"sync"
)

// ScriptedInterpreter is a test implementation of Interpreter. It replays
// queued outputs in order and records every input it receives.
type ScriptedInterpreter struct {
	mu      sync.Mutex
	outputs [][]Tensor
	calls   [][]Tensor
	err     error
	closed  bool
}

// NewScriptedInterpreter creates an empty scripted interpreter.
func NewScriptedInterpreter() *ScriptedInterpreter {
	return &ScriptedInterpreter{}
}

// Enqueue appends one invocation's output tensors to the script.
func (s *ScriptedInterpreter) Enqueue(outputs ...Tensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, outputs)
}

// SetError makes every subsequent Invoke fail with err.
func (s *ScriptedInterpreter) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns the inputs of every Invoke so far.
func (s *ScriptedInterpreter) Calls() [][]Tensor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Closed reports whether Close was called.
func (s *ScriptedInterpreter) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Invoke records the inputs and replays the next scripted output. When the
// script is exhausted it keeps returning the last entry, which lets tests
// script one response for any number of candidates.
func (s *ScriptedInterpreter) Invoke(inputs []Tensor) ([]Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, inputs)

	if len(s.outputs) == 0 {
		return nil, errors.New("scripted interpreter has no outputs")
	}

	out := s.outputs[0]
	if len(s.outputs) > 1 {
		s.outputs = s.outputs[1:]
	}
	return out, nil
}

// Close marks the interpreter closed.
func (s *ScriptedInterpreter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
