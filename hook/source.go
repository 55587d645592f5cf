package hook

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/kode4food/changemaster"
)

// Source is a changemaster.Source fed by JSON payloads handed to Submit.
// Malformed payloads are logged and dropped; they never surface as errors
// to the submitter
type Source struct {
	logger *zap.Logger
	sink   changemaster.Sink
	mu     sync.RWMutex
}

// PayloadField is the form field SubmitRequest reads the payload from
const PayloadField = "payload"

var _ changemaster.Source = (*Source)(nil)

func NewSource(logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{logger: logger}
}

func (s *Source) Start(_ context.Context, sink changemaster.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	return nil
}

func (s *Source) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = nil
	return nil
}

// Running reports whether the Source is attached to a Sink
func (s *Source) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sink != nil
}

// Submit decodes a payload and ingests the resulting changes, returning the
// numbered ones. Every failure is logged and yields no change
func (s *Source) Submit(ctx context.Context, data []byte) []*changemaster.Change {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()

	if sink == nil {
		s.logger.Warn("Dropping payload, hook source is not running")
		return nil
	}

	changes, err := Decode(data)
	if err != nil {
		s.logger.Error("Could not decode payload", zap.Error(err))
		return nil
	}

	var res []*changemaster.Change
	for _, raw := range changes {
		s.logger.Info("Received change",
			zap.String("author", raw.Author),
			zap.String("project", raw.Project),
			zap.String("revision", raw.Revision),
		)
		ch, err := sink.AddChange(ctx, raw)
		if err != nil {
			s.logger.Error("Could not add change",
				zap.String("revision", raw.Revision),
				zap.Error(err),
			)
		}
		if ch != nil {
			res = append(res, ch)
		}
	}
	return res
}

// SubmitRequest reads the payload from the request's form and submits it
func (s *Source) SubmitRequest(r *http.Request) []*changemaster.Change {
	data := r.FormValue(PayloadField)
	if data == "" {
		s.logger.Error("Request carries no payload",
			zap.String("field", PayloadField),
		)
		return nil
	}
	return s.Submit(r.Context(), []byte(data))
}
