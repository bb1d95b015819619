package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/host"
	"github.com/lumen-ide/lumen/logger"
)

// doneSentinel is the JSON string that terminates a model push channel.
var doneSentinel = []byte(`"[DONE]"`)

// AIAPI drives model completion streams for one extension.
type AIAPI struct {
	api *API
}

// Stream starts a model completion and returns a lazy, finite,
// non-restartable fragment sequence. The underlying push channel is
// adapted to pull iteration: fragments queue up as they arrive and
// Next suspends until one is available or the stream has ended.
func (a *AIAPI) Stream(ctx context.Context, request map[string]any) (*AIStream, error) {
	raw, err := a.api.deps.Host.Invoke(ctx, host.CmdLLMChat, map[string]any{"request": request})
	if err != nil {
		return nil, err
	}
	var result struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "decoding llm_chat result")
	}

	stream := &AIStream{
		api:    a.api,
		signal: make(chan struct{}, 1),
	}
	dispose, err := a.api.deps.Host.Listen(ctx, result.Channel, stream.push)
	if err != nil {
		return nil, err
	}
	stream.dispose = dispose
	a.api.trackDisposer(dispose)
	return stream, nil
}

// AIStream is a pull-based sequence of model-output fragments.
//
// Next yields each fragment exactly once in arrival order. A "[DONE]"
// sentinel ends the sequence with io.EOF. A payload shaped {error: ...}
// ends it by returning that error after all earlier buffered fragments
// have been drained.
type AIStream struct {
	api     *API
	dispose host.Disposer

	mu     sync.Mutex
	queue  []json.RawMessage
	err    error
	closed bool
	signal chan struct{}
}

// push receives one payload from the host channel. Runs on the
// publisher's goroutine.
func (s *AIStream) push(payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch {
	case bytes.Equal(bytes.TrimSpace(payload), doneSentinel):
		s.closed = true
	default:
		var probe struct {
			Error *string `json:"error"`
		}
		if err := json.Unmarshal(payload, &probe); err != nil {
			// malformed delta, logged and dropped without ending the stream
			s.api.log.Warnw("Dropping malformed model fragment",
				logger.FieldError, errors.Wrap(errors.ErrStreamProtocol, err.Error()))
			return
		}
		if probe.Error != nil {
			s.err = errors.Wrapf(errors.ErrStreamProtocol, "model stream failed: %s", *probe.Error)
			s.closed = true
		} else {
			fragment := make(json.RawMessage, len(payload))
			copy(fragment, payload)
			s.queue = append(s.queue, fragment)
		}
	}

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next returns the next fragment. io.EOF marks normal completion.
// Buffered fragments are always drained before a stream error is
// surfaced. Calling Next after completion keeps returning the terminal
// result.
func (s *AIStream) Next(ctx context.Context) (json.RawMessage, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			fragment := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return fragment, nil
		}
		if s.closed {
			err := s.err
			s.mu.Unlock()
			s.Close()
			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		s.mu.Unlock()

		select {
		case <-s.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close detaches the stream from the push channel. Idempotent.
func (s *AIStream) Close() {
	if s.dispose != nil {
		s.dispose()
	}
}
