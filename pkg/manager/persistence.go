package manager

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"
)

// PersistenceService describes the hook the manager emits after every
// executed signal. Implementations mirror reports to durable storage; the
// exchange's own records stay the ground truth.
type PersistenceService interface {
	RecordReport(ctx context.Context, report *Report) error
}

type noopPersistenceService struct{}

func (noopPersistenceService) RecordReport(ctx context.Context, report *Report) error {
	return nil
}

// newNoopPersistenceService guarantees manager always has a persistence hook to call.
func newNoopPersistenceService() PersistenceService {
	return noopPersistenceService{}
}

func logPersistenceError(err error, msg string, fields map[string]any) {
	if err == nil {
		return
	}
	logx.WithContext(context.Background()).Errorf("manager: %s: %v fields=%v", msg, err, fields)
}
