// Package coins implements the coin ledger and its anti-abuse gate: a
// just-completed quiz attempt earns currency only when it matches the live
// quiz version, is the first attempt for that version, and the translation
// history has grown enough since the last payout.
package coins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lingosync/pkg/domain"
	"lingosync/pkg/remote"
)

// MinHistoryGrowth is how many new history records must accumulate between
// award-eligible attempts of one language pair.
const MinHistoryGrowth = 10

// ErrInsufficientCoins rejects a spend that would overdraw the balance.
var ErrInsufficientCoins = errors.New("insufficient coins")

// Reason explains a settle decision. A negative decision is a normal,
// expected outcome, not an error.
type Reason string

const (
	ReasonAwarded            Reason = "awarded"
	ReasonNoCurrentQuiz      Reason = "no_current_quiz"
	ReasonVersionMismatch    Reason = "version_mismatch"
	ReasonRepeatAttempt      Reason = "repeat_attempt"
	ReasonInsufficientGrowth Reason = "insufficient_history_growth"
)

// Decision is the outcome of settling one attempt.
type Decision struct {
	Awarded bool
	Reason  Reason
	Coins   int
}

// Ledger owns the payout decision and the single atomic award write.
type Ledger struct {
	store remote.Store
	log   *slog.Logger
}

func NewLedger(store remote.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, log: logger}
}

// Complete records the attempt and then settles it. The attempt is saved for
// stats and history even when no payout follows.
func (l *Ledger) Complete(ctx context.Context, attempt domain.QuizAttempt) (Decision, error) {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CompletedAt.IsZero() {
		attempt.CompletedAt = time.Now().UTC()
	}
	err := l.store.Write(ctx, domain.QuizAttemptDoc(attempt.UserID, attempt.ID),
		domain.EncodeQuizAttempt(attempt), remote.ModeCreate)
	if err != nil {
		return Decision{}, fmt.Errorf("save quiz attempt: %w", err)
	}
	return l.Settle(ctx, attempt)
}

// Settle applies the eligibility gate and, when coins are owed, performs the
// payout. The balance increments and the award receipt land in one atomic
// batch; the receipt is a create keyed by (pair, history count), so two
// concurrent settlements of the same version cannot both pay out.
func (l *Ledger) Settle(ctx context.Context, attempt domain.QuizAttempt) (Decision, error) {
	uid := attempt.UserID
	pair := attempt.LanguagePair

	quizDoc, ok, err := l.store.GetOnce(ctx, domain.GeneratedQuizDoc(uid, pair))
	if err != nil {
		return Decision{}, fmt.Errorf("load current quiz version: %w", err)
	}
	if !ok {
		return Decision{Reason: ReasonNoCurrentQuiz}, nil
	}
	current, err := domain.DecodeContentVersion(quizDoc)
	if err != nil {
		return Decision{}, err
	}
	if current.HistoryCountAtGenerate != attempt.HistoryCountAtGenerate {
		return Decision{Reason: ReasonVersionMismatch}, nil
	}

	receiptPath := domain.CoinAwardDoc(uid, pair, attempt.HistoryCountAtGenerate)
	if _, ok, err := l.store.GetOnce(ctx, receiptPath); err != nil {
		return Decision{}, fmt.Errorf("check award receipt: %w", err)
	} else if ok {
		return Decision{Reason: ReasonRepeatAttempt}, nil
	}

	last, hasLast, err := l.lastAwarded(ctx, uid, pair)
	if err != nil {
		return Decision{}, err
	}
	if hasLast && attempt.HistoryCountAtGenerate < last+MinHistoryGrowth {
		return Decision{Reason: ReasonInsufficientGrowth}, nil
	}

	coins := attempt.TotalScore
	now := time.Now().UTC()
	err = l.store.BatchWrite(ctx, []remote.WriteOp{
		remote.Increment(domain.UserDoc(uid), "coinTotal", int64(coins)),
		remote.Increment(domain.UserDoc(uid), "coinByLang."+string(pair), int64(coins)),
		remote.Create(receiptPath, map[string]any{
			"languagePair":           string(pair),
			"historyCountAtGenerate": attempt.HistoryCountAtGenerate,
			"coins":                  coins,
			"attemptId":              attempt.ID,
			"awardedAt":              remote.EncodeTime(now),
		}),
	})
	if errors.Is(err, remote.ErrAlreadyExists) {
		// Lost the race to a concurrent completion of the same version.
		return Decision{Reason: ReasonRepeatAttempt}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("award coins: %w", err)
	}
	l.log.Info("coins awarded", "uid", uid, "pair", pair, "coins", coins,
		"historyCount", attempt.HistoryCountAtGenerate)
	return Decision{Awarded: true, Reason: ReasonAwarded, Coins: coins}, nil
}

// lastAwarded returns the highest history count that has paid out for the
// pair, i.e. the newest award receipt.
func (l *Ledger) lastAwarded(ctx context.Context, uid string, pair domain.LanguagePair) (int, bool, error) {
	snap, err := l.store.QueryOnce(ctx, remote.Query{
		Collection: domain.CoinAwardsCollection(uid),
		Filters: []remote.Filter{
			remote.Where("languagePair", remote.OpEqual, string(pair)),
		},
		OrderBy:    "historyCountAtGenerate",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return 0, false, fmt.Errorf("load last award: %w", err)
	}
	if len(snap.Docs) == 0 {
		return 0, false, nil
	}
	return remote.Int(snap.Docs[0].Fields, "historyCountAtGenerate"), true, nil
}

// spendRetries bounds the re-read loop when concurrent spends collide.
const spendRetries = 8

// Spend deducts coins for a shop purchase, the one legitimate decrease of the
// balance. An overdraw is rejected before anything is written; the decrement,
// a spend receipt, and the spend counter land in one atomic batch. The
// receipt is a create keyed by the counter read alongside the balance, so a
// concurrent spend fails the batch and forces a re-read instead of ever
// exposing a negative balance.
func (l *Ledger) Spend(ctx context.Context, uid string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("spend amount must be positive")
	}
	for attempt := 0; attempt < spendRetries; attempt++ {
		doc, ok, err := l.store.GetOnce(ctx, domain.UserDoc(uid))
		if err != nil {
			return fmt.Errorf("load coin balance: %w", err)
		}
		var total int64
		var seq int
		if ok {
			total = remote.Int64(doc.Fields, "coinTotal")
			seq = remote.Int(doc.Fields, "spendCount")
		}
		if total < amount {
			return ErrInsufficientCoins
		}
		err = l.store.BatchWrite(ctx, []remote.WriteOp{
			remote.Create(domain.CoinSpendDoc(uid, seq), map[string]any{
				"amount":  amount,
				"spentAt": remote.EncodeTime(time.Now().UTC()),
			}),
			remote.Increment(domain.UserDoc(uid), "coinTotal", -amount),
			remote.Increment(domain.UserDoc(uid), "spendCount", 1),
		})
		if errors.Is(err, remote.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("spend coins: %w", err)
		}
		return nil
	}
	return fmt.Errorf("spend coins: too many concurrent spends")
}

// Stats returns the user's coin aggregates.
func (l *Ledger) Stats(ctx context.Context, uid string) (domain.UserCoinStats, error) {
	doc, ok, err := l.store.GetOnce(ctx, domain.UserDoc(uid))
	if err != nil {
		return domain.UserCoinStats{}, fmt.Errorf("load coin stats: %w", err)
	}
	if !ok {
		return domain.UserCoinStats{}, nil
	}
	return domain.UserCoinStats{
		CoinTotal:  remote.Int64(doc.Fields, "coinTotal"),
		CoinByLang: remote.Int64Map(doc.Fields, "coinByLang"),
	}, nil
}
