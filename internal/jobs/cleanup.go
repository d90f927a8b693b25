package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clouddrive/server/internal/repo"
)

const CleanupJobName = "VerificationRecordCleanup"

// NewCleanupJob deletes OTP records and reset tokens that are consumed or expired and older than
// retention. Live records are never touched.
func NewCleanupJob(otps repo.OtpRepo, resets repo.ResetRepo, retention, timeout time.Duration, logger *zap.Logger) Job {
	return NewJob(CleanupJobName, cleanupFunc(otps, resets, retention, time.Now, logger), timeout)
}

func cleanupFunc(otps repo.OtpRepo, resets repo.ResetRepo, retention time.Duration, now func() time.Time, logger *zap.Logger) JobFunc {
	return func(ctx context.Context) error {
		cutoff := now().Add(-retention)

		otpCount, otpErr := otps.DeleteStale(ctx, cutoff)
		if otpErr != nil {
			otpErr = fmt.Errorf("otp cleanup: %w", otpErr)
		}
		resetCount, resetErr := resets.DeleteStale(ctx, cutoff)
		if resetErr != nil {
			resetErr = fmt.Errorf("reset token cleanup: %w", resetErr)
		}

		logger.Info("verification records cleaned up",
			zap.Int64("otps", otpCount),
			zap.Int64("reset_tokens", resetCount),
			zap.Time("cutoff", cutoff))
		return errors.Join(otpErr, resetErr)
	}
}
