package service

import (
	"context"

	"promoshot/internal/entity"
	"promoshot/internal/lifecycle"
	"promoshot/internal/model"

	"github.com/sirupsen/logrus"
)

// processLogger appends processing logs and mirrors them into the lifecycle store.
// Log writes are diagnostic: failures are reported but never fail the caller.
type processLogger struct {
	repo   model.Repository
	states *lifecycle.Store
}

func (l processLogger) append(ctx context.Context, requestID uint, step string, status entity.LogStatus, message string, data entity.JSONMap) {
	if l.repo != nil {
		id := requestID
		entry := &entity.DbProcessingLog{
			RequestID: &id,
			StepName:  step,
			Status:    status,
			Message:   message,
			Data:      data,
		}
		if err := l.repo.AppendProcessingLog(ctx, entry); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"request_id": requestID,
				"step":       step,
			}).Warn("failed to append processing log")
		}
	}
	l.states.RecordStep(requestID, step, status)
}
