package api

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/attendance-engine/attendance"
)

// AuditSink persists audit records. Both SQL stores implement it.
type AuditSink interface {
	AppendAudit(ctx context.Context, r attendance.AuditRecord) error
}

// NewAuditHook logs every engine audit event and, when sink is non-nil,
// appends it to the audit trail. A failed append is logged, not returned:
// the punch it describes has already been committed.
func NewAuditHook(logger *zap.Logger, sink AuditSink) attendance.AuditHook {
	return func(ctx context.Context, ev attendance.AuditEvent) {
		rec := attendance.AuditRecord{
			ID:         uuid.NewString(),
			EmployeeID: ev.EmployeeID,
			WorkDate:   ev.Date,
			Action:     string(ev.Action),
			ActorID:    ev.ActorID,
			Source:     ev.Source,
			At:         ev.At,
		}
		for _, s := range ev.Slots {
			rec.Slots = append(rec.Slots, s.String())
		}

		logger.Info("attendance audit",
			zap.String("audit_id", rec.ID),
			zap.String("action", rec.Action),
			zap.Int64("employee_id", rec.EmployeeID),
			zap.String("work_date", rec.WorkDate.String()),
			zap.Strings("slots", rec.Slots),
			zap.String("actor_id", rec.ActorID),
			zap.String("source", rec.Source),
			zap.Time("at", rec.At),
		)

		if sink == nil {
			return
		}
		if err := sink.AppendAudit(ctx, rec); err != nil {
			logger.Error("failed to persist audit record",
				zap.String("audit_id", rec.ID),
				zap.Error(err),
			)
		}
	}
}
