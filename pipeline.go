package changemaster

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// AddChange validates a raw change, numbers it through the Store and
// delivers it to every subscriber before returning. If ctx ends after the
// change was persisted but before delivery completed, the numbered change is
// returned together with the context error
func (m *Manager) AddChange(ctx context.Context, raw *Change) (*Change, error) {
	if err := validateChange(raw); err != nil {
		m.metrics.ingestFailed(reasonValidation)
		return nil, err
	}
	if m.closed.Load() {
		m.metrics.ingestFailed(reasonClosed)
		return nil, ErrClosed
	}

	m.logChange(raw)

	ticket, err := m.seq.begin()
	if err != nil {
		m.metrics.ingestFailed(reasonClosed)
		return nil, err
	}

	ch, err := m.persist(ctx, raw)
	if err != nil {
		m.seq.complete(ticket, nil)
		m.metrics.ingestFailed(reasonStorage)
		m.logger.Error("Failed to persist change",
			zap.String("revision", logText(raw.Revision)),
			zap.Error(err),
		)
		return nil, err
	}

	m.metrics.changeIngested()
	m.cache.Put(ch)
	d := m.seq.complete(ticket, ch)

	select {
	case <-d.done:
	case <-ctx.Done():
		m.pruner.Request(ch.ID)
		return ch.Copy(), ctx.Err()
	}

	m.pruner.Request(ch.ID)
	return ch.Copy(), nil
}

func (m *Manager) persist(ctx context.Context, raw *Change) (ch *Change, err error) {
	defer func() {
		if r := recover(); r != nil {
			ch = nil
			err = &StorageError{Op: "assign and persist", Err: panicError(r)}
		}
	}()

	stamped := raw.Copy()
	if stamped.When.IsZero() {
		stamped.When = m.now()
	}
	if stamped.Files == nil {
		stamped.Files = []string{}
	}

	ch, err = m.store.AssignAndPersist(ctx, stamped)
	if err != nil {
		return nil, &StorageError{Op: "assign and persist", Err: err}
	}
	if ch == nil || ch.ID <= NoChange {
		return nil, &StorageError{
			Op:  "assign and persist",
			Err: errInvalidAssignment,
		}
	}
	return ch, nil
}

func (m *Manager) logChange(raw *Change) {
	m.logger.Info("Adding change",
		zap.String("author", logText(raw.Author)),
		zap.Int("files", len(raw.Files)),
		zap.String("revision", logText(raw.Revision)),
		zap.String("branch", logText(raw.Branch)),
		zap.String("repository", logText(raw.Repository)),
		zap.String("comments", logText(raw.Comments)),
		zap.String("category", logText(raw.Category)),
		zap.String("project", logText(raw.Project)),
	)
}

func validateChange(raw *Change) error {
	switch {
	case raw == nil:
		return &ValidationError{Field: "change", Reason: "is required"}
	case raw.ID != NoChange:
		return &ValidationError{Field: "id", Reason: "must not be set"}
	case strings.TrimSpace(raw.Author) == "":
		return &ValidationError{Field: "author", Reason: "is required"}
	case strings.TrimSpace(raw.Revision) == "":
		return &ValidationError{Field: "revision", Reason: "is required"}
	default:
		return nil
	}
}

// logText keeps producer-supplied text from corrupting log output
func logText(s string) string {
	return strings.ToValidUTF8(s, "�")
}
