package numbering

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// RepositoryPort abstracts the counter store.
type RepositoryPort interface {
	NextSeq(ctx context.Context, pharmacyID int64, scope Scope, period string) (int64, error)
}

// Service issues human-readable document numbers. Sequences never repeat
// for a pharmacy even across restarts because the counter lives in the
// database, not in memory.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

const maxAttempts = 3

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// NextTransactionNumber returns the next running number for a transaction
// kind, e.g. SAL-000001.
func (s *Service) NextTransactionNumber(ctx context.Context, pharmacyID int64, scope Scope) (string, error) {
	prefix, ok := TransactionPrefix(scope)
	if !ok {
		return "", fmt.Errorf("numbering: unknown transaction scope %q", scope)
	}
	seq, err := s.nextSeq(ctx, pharmacyID, scope, "")
	if err != nil {
		return s.fallback(prefix + "-"), nil
	}
	return fmt.Sprintf("%s-%06d", prefix, seq), nil
}

// NextReceiptNumber returns the next daily receipt number, e.g. RCP20260901001.
func (s *Service) NextReceiptNumber(ctx context.Context, pharmacyID int64) (string, error) {
	return s.nextDaily(ctx, pharmacyID, ScopeReceipt, "RCP")
}

// NextRefundNumber returns the next daily refund number, e.g. REF20260901001.
func (s *Service) NextRefundNumber(ctx context.Context, pharmacyID int64) (string, error) {
	return s.nextDaily(ctx, pharmacyID, ScopeRefund, "REF")
}

func (s *Service) nextDaily(ctx context.Context, pharmacyID int64, scope Scope, prefix string) (string, error) {
	day := s.now().UTC().Format("20060102")
	seq, err := s.nextSeq(ctx, pharmacyID, scope, day)
	if err != nil {
		return s.fallback(prefix + day), nil
	}
	return fmt.Sprintf("%s%s%03d", prefix, day, seq), nil
}

func (s *Service) nextSeq(ctx context.Context, pharmacyID int64, scope Scope, period string) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		seq, err := s.repo.NextSeq(ctx, pharmacyID, scope, period)
		if err == nil {
			return seq, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

// fallback produces a timestamp-based number when the counter store is
// unreachable. It stays unique in practice and keeps checkout available.
func (s *Service) fallback(prefix string) string {
	n := fmt.Sprintf("%s%d%03d", prefix, s.now().UnixMilli(), rand.Intn(1000))
	if s.logger != nil {
		s.logger.Warn("numbering fallback issued", "number", n)
	}
	return n
}
