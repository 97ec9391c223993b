package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// PendingCounter counts verification records created before cutoff that are
// still unverified.
type PendingCounter interface {
	PendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PendingVerificationReportJob reports stale unverified registrations. It
// never deletes anything, operators decide what to do with them.
type PendingVerificationReportJob struct {
	counter  PendingCounter
	staleAge time.Duration
	now      func() time.Time
}

func NewPendingVerificationReportJob(counter PendingCounter, staleAge time.Duration) *PendingVerificationReportJob {
	return &PendingVerificationReportJob{counter: counter, staleAge: staleAge, now: time.Now}
}

func (j *PendingVerificationReportJob) Name() string {
	return "pending_verification_report"
}

func (j *PendingVerificationReportJob) Run(ctx context.Context) error {
	if j.counter == nil {
		return nil
	}
	staleAge := j.staleAge
	if staleAge <= 0 {
		staleAge = 7 * 24 * time.Hour
	}
	cutoff := j.now().Add(-staleAge)
	count, err := j.counter.PendingBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx).With(zap.Time("cutoff", cutoff))
	if count == 0 {
		logger.Debug("no stale pending verifications")
		return nil
	}
	logger.Warn("stale pending email verifications", zap.Int64("count", count))
	return nil
}
