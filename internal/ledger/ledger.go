// Package ledger maintains the append-only wellness log and the driver
// reward accounts.
//
// Wellness log entries are hash-sealed on write and verifiable forever after.
// Account mutation happens through exactly two paths, settle (mint) and
// redeem, both serialized per driver and guarded by a compare-and-swap on the
// account version so concurrent writers cannot lose updates.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/safedrive/internal/credits"
	"github.com/mbd888/safedrive/internal/idgen"
	"github.com/mbd888/safedrive/internal/logging"
	"github.com/mbd888/safedrive/internal/metrics"
	"github.com/mbd888/safedrive/internal/retry"
	"github.com/mbd888/safedrive/internal/scoring"
	"github.com/mbd888/safedrive/internal/syncutil"
	"github.com/mbd888/safedrive/internal/traces"
)

// Sentinel errors. Callers branch on these; they are results, not panics.
var (
	// ErrBelowThreshold is the expected outcome of settling a low-scoring
	// session. Frequent and not a failure.
	ErrBelowThreshold = errors.New("safety score below mint threshold")

	// ErrInsufficientBalance rejects a redemption larger than the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyMinted rejects minting an achievement type twice.
	ErrAlreadyMinted = errors.New("achievement already minted")

	// ErrDuplicateSettle marks a settlement replay. The original settlement
	// stands; nothing was minted twice.
	ErrDuplicateSettle = errors.New("session already settled")

	// ErrIntegrity signals a wellness log whose stored hash no longer
	// matches its fields. Never auto-repaired.
	ErrIntegrity = errors.New("wellness log integrity check failed")

	// ErrInvalidAmount rejects malformed or non-positive amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAccountInactive rejects operations on a deactivated account.
	ErrAccountInactive = errors.New("reward account is inactive")

	// ErrLogNotFound indicates no wellness log exists at that index.
	ErrLogNotFound = errors.New("wellness log not found")

	// ErrStaleAccount is an internal CAS conflict, retried by the service.
	ErrStaleAccount = errors.New("account version conflict")

	// ErrWrite indicates the store rejected a write after retries.
	ErrWrite = errors.New("ledger write failed")

	// ErrTimeout indicates a store call exceeded the ledger deadline. The
	// operation may or may not have landed; distinguishable from a
	// definitive rejection.
	ErrTimeout = errors.New("ledger operation timed out")
)

// WellnessLog is one append-only ledger entry. Immutable once written.
type WellnessLog struct {
	Index            int       `json:"index"`
	DriverID         string    `json:"driverId"`
	Timestamp        time.Time `json:"timestamp"`
	DrowsinessEvents int       `json:"drowsinessEvents"`
	StressLevel      float64   `json:"stressLevel"`
	Interventions    int       `json:"interventions"`
	RouteCompliance  float64   `json:"routeCompliance"`
	GPSCoordinates   string    `json:"gpsCoordinates"`
	DataHash         string    `json:"dataHash"`
}

// Account is a driver's reward account. currentBalance always equals
// totalEarned minus totalRedeemed; amounts are fixed-point decimal strings.
type Account struct {
	DriverID       string    `json:"driverId"`
	TotalScore     int       `json:"totalScore"`
	TotalEarned    string    `json:"totalEarned"`
	TotalRedeemed  string    `json:"totalRedeemed"`
	CurrentBalance string    `json:"currentBalance"`
	IsActive       bool      `json:"isActive"`
	LastUpdateTime time.Time `json:"lastUpdateTime"`
	Version        int64     `json:"-"`
}

// Settlement records one mint, keyed by session ID for idempotency.
type Settlement struct {
	SessionID       string    `json:"sessionId"`
	DriverID        string    `json:"driverId"`
	Amount          string    `json:"amount"`
	SafetyScore     int       `json:"safetyScore"`
	DurationSeconds float64   `json:"durationSeconds"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Redemption records one irreversible balance spend.
type Redemption struct {
	ID         string    `json:"redemptionId"`
	DriverID   string    `json:"driverId"`
	Amount     string    `json:"amount"`
	RewardType string    `json:"rewardType"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Achievement is a unique per-(driver,type) badge with a credit bonus.
type Achievement struct {
	ID          string    `json:"achievementId"`
	DriverID    string    `json:"driverId"`
	Type        string    `json:"type"`
	Requirement string    `json:"requirement"`
	RewardBonus string    `json:"rewardBonus"`
	SafetyScore int       `json:"safetyScore"`
	DrivingHrs  float64   `json:"drivingHours"`
	MintedAt    time.Time `json:"mintedAt"`
}

// achievementTier defines one eligibility rung. Checked highest first.
type achievementTier struct {
	Type      string
	MinLogs   int
	MinEarned *big.Int // minor units
	Bonus     *big.Int // minor units, 10% of MinEarned
}

var achievementTiers = []achievementTier{
	{Type: "platinum", MinLogs: 250, MinEarned: credits.MustParse("5000.00"), Bonus: credits.MustParse("500.00")},
	{Type: "gold", MinLogs: 100, MinEarned: credits.MustParse("1000.00"), Bonus: credits.MustParse("100.00")},
	{Type: "silver", MinLogs: 50, MinEarned: credits.MustParse("250.00"), Bonus: credits.MustParse("25.00")},
	{Type: "bronze", MinLogs: 10, MinEarned: credits.MustParse("50.00"), Bonus: credits.MustParse("5.00")},
}

// Service is the reward ledger.
type Service struct {
	store Store
	locks *syncutil.ContextShardedMutex

	mintThreshold int
	baseRate      *big.Int // minor units per hour at a perfect score
	durationCap   time.Duration
	timeout       time.Duration
	attempts      int

	metrics  *metrics.Metrics
	mintHook func(settlement *Settlement)
}

// Options configures the ledger service.
type Options struct {
	MintThreshold   int
	BaseRatePerHour string
	DurationCap     time.Duration
	Timeout         time.Duration
	WriteAttempts   int
	Metrics         *metrics.Metrics
}

// NewService creates a ledger service. Returns an error for a malformed base
// rate; that is a configuration bug and fatal at startup.
func NewService(store Store, opts Options) (*Service, error) {
	baseRate, err := credits.Parse(opts.BaseRatePerHour)
	if err != nil {
		return nil, fmt.Errorf("invalid base rate %q: %w", opts.BaseRatePerHour, err)
	}
	if opts.WriteAttempts < 1 {
		opts.WriteAttempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Service{
		store:         store,
		locks:         syncutil.NewContextShardedMutex(),
		mintThreshold: opts.MintThreshold,
		baseRate:      baseRate,
		durationCap:   opts.DurationCap,
		timeout:       opts.Timeout,
		attempts:      opts.WriteAttempts,
		metrics:       opts.Metrics,
	}, nil
}

// SetMintHook registers a callback fired after every successful mint.
func (s *Service) SetMintHook(hook func(*Settlement)) { s.mintHook = hook }

// computeHash seals a wellness log entry. Field order and formatting are part
// of the stored contract; changing either invalidates existing hashes.
func computeHash(driverID string, ts time.Time, drowsinessEvents int, stressLevel float64,
	interventions int, routeCompliance float64, gps string) string {

	payload := strings.Join([]string{
		driverID,
		ts.UTC().Format(time.RFC3339Nano),
		strconv.Itoa(drowsinessEvents),
		strconv.FormatFloat(stressLevel, 'g', -1, 64),
		strconv.Itoa(interventions),
		strconv.FormatFloat(routeCompliance, 'g', -1, 64),
		gps,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// RecordWellnessLog hashes and appends one entry. The append is atomic: on
// error nothing was written.
func (s *Service) RecordWellnessLog(ctx context.Context, driverID string, drowsinessEvents int,
	stressLevel float64, interventions int, routeCompliance float64, gps string) (*WellnessLog, error) {

	if drowsinessEvents < 0 || interventions < 0 {
		return nil, fmt.Errorf("%w: event counts must not be negative", ErrInvalidAmount)
	}

	ctx, span := traces.StartSpan(ctx, "ledger.RecordWellnessLog", traces.DriverID(driverID))
	defer span.End()

	now := time.Now().UTC()
	entry := &WellnessLog{
		DriverID:         driverID,
		Timestamp:        now,
		DrowsinessEvents: drowsinessEvents,
		StressLevel:      scoring.NormalizeUnit(stressLevel),
		Interventions:    interventions,
		RouteCompliance:  scoring.NormalizePercent(routeCompliance),
		GPSCoordinates:   gps,
	}
	entry.DataHash = computeHash(driverID, entry.Timestamp, entry.DrowsinessEvents,
		entry.StressLevel, entry.Interventions, entry.RouteCompliance, entry.GPSCoordinates)

	err := s.withDeadline(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, s.attempts, 50*time.Millisecond, func() error {
			return s.store.AppendLog(ctx, entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// VerifyLogIntegrity recomputes the hash of the entry at index. A mismatch
// returns ErrIntegrity; it is surfaced, never repaired.
func (s *Service) VerifyLogIntegrity(ctx context.Context, driverID string, index int) (*WellnessLog, error) {
	entry, err := s.store.GetLog(ctx, driverID, index)
	if err != nil {
		return nil, err
	}

	expected := computeHash(entry.DriverID, entry.Timestamp, entry.DrowsinessEvents,
		entry.StressLevel, entry.Interventions, entry.RouteCompliance, entry.GPSCoordinates)
	if expected != entry.DataHash {
		if s.metrics != nil {
			s.metrics.IntegrityFailures.Inc()
		}
		logging.L(ctx).Error("wellness log hash mismatch",
			"driver_id", driverID, "index", index)
		return entry, fmt.Errorf("%w: entry %d", ErrIntegrity, index)
	}
	return entry, nil
}

// ListLogs returns the driver's wellness log entries, oldest first.
func (s *Service) ListLogs(ctx context.Context, driverID string, limit, offset int) ([]*WellnessLog, error) {
	return s.store.ListLogs(ctx, driverID, limit, offset)
}

// GetAccount returns the driver's reward account, zero-valued if untouched.
func (s *Service) GetAccount(ctx context.Context, driverID string) (*Account, error) {
	return s.store.GetAccount(ctx, driverID)
}

// rewardAmount computes score/100 x baseRate x hours, with duration capped.
// Monotonic in both score and duration. Truncates to whole minor units.
func (s *Service) rewardAmount(score int, durationSeconds float64) *big.Int {
	capped := math.Min(durationSeconds, s.durationCap.Seconds())
	secs := int64(capped)
	if secs <= 0 || score <= 0 {
		return credits.Zero()
	}

	// baseRate(cents/hour) * score * seconds / (100 * 3600)
	n := new(big.Int).Mul(s.baseRate, big.NewInt(int64(score)))
	n.Mul(n, big.NewInt(secs))
	n.Div(n, big.NewInt(360000))
	return n
}

// SettleSession mints the reward for one closed session. Gated on the mint
// threshold and idempotent per session: a replay returns the original
// settlement with ErrDuplicateSettle and mints nothing.
func (s *Service) SettleSession(ctx context.Context, driverID, sessionID string, safetyScore int, durationSeconds float64) (*Settlement, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidAmount)
	}
	if safetyScore < s.mintThreshold {
		return nil, fmt.Errorf("%w: score %d < %d", ErrBelowThreshold, safetyScore, s.mintThreshold)
	}

	ctx, span := traces.StartSpan(ctx, "ledger.SettleSession",
		traces.DriverID(driverID), traces.SessionID(sessionID), traces.Score(safetyScore))
	defer span.End()

	settlement := &Settlement{
		SessionID:       sessionID,
		DriverID:        driverID,
		Amount:          credits.Format(s.rewardAmount(safetyScore, durationSeconds)),
		SafetyScore:     safetyScore,
		DurationSeconds: durationSeconds,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.mint(ctx, driverID, settlement); err != nil {
		return s.resolveDuplicate(ctx, sessionID, err)
	}

	if s.metrics != nil {
		s.metrics.RewardsMinted.Inc()
	}
	logging.L(ctx).Info("session settled",
		"driver_id", driverID,
		"session_id", sessionID,
		"amount", settlement.Amount,
		"score", safetyScore)

	if s.mintHook != nil {
		s.mintHook(settlement)
	}
	return settlement, nil
}

// resolveDuplicate turns a duplicate-settle conflict into the original record.
func (s *Service) resolveDuplicate(ctx context.Context, sessionID string, err error) (*Settlement, error) {
	if !errors.Is(err, ErrDuplicateSettle) {
		return nil, err
	}
	existing, getErr := s.store.GetSettlement(ctx, sessionID)
	if getErr != nil || existing == nil {
		return nil, err
	}
	return existing, ErrDuplicateSettle
}

// mint records the settlement and credits the account in one atomic store
// write. The settlement insert is the idempotency guard, and because it lands
// together with the credit a failed attempt leaves no settlement behind to
// block a retry. CAS conflicts are retried with the driver lock released
// during backoff.
func (s *Service) mint(ctx context.Context, driverID string, settlement *Settlement) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	unlock, err := s.locks.LockContext(ctx, driverID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	relock := func() {
		u, _ := s.locks.LockContext(context.Background(), driverID)
		unlock = u
	}
	defer func() { unlock() }()

	amount, err := credits.Parse(settlement.Amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	err = retry.DoWithUnlock(ctx, s.attempts, 50*time.Millisecond,
		func() { unlock() }, relock,
		func() error {
			account, err := s.store.GetAccount(ctx, driverID)
			if err != nil {
				return err
			}
			if !account.IsActive && account.Version > 0 {
				return retry.Permanent(ErrAccountInactive)
			}

			earned, err := credits.Parse(account.TotalEarned)
			if err != nil {
				return retry.Permanent(fmt.Errorf("corrupt totalEarned: %w", err))
			}
			balance, err := credits.Parse(account.CurrentBalance)
			if err != nil {
				return retry.Permanent(fmt.Errorf("corrupt currentBalance: %w", err))
			}

			account.TotalEarned = credits.Format(credits.Add(earned, amount))
			account.CurrentBalance = credits.Format(credits.Add(balance, amount))
			account.TotalScore += settlement.SafetyScore
			account.IsActive = true
			account.LastUpdateTime = time.Now().UTC()

			err = s.store.SaveSettlementAndCredit(ctx, settlement, account, account.Version)
			if errors.Is(err, ErrDuplicateSettle) {
				return retry.Permanent(err)
			}
			return err
		})
	if err != nil {
		return s.mapStoreErr(ctx, err)
	}
	return nil
}

// Redeem spends credits from the balance. Irreversible.
func (s *Service) Redeem(ctx context.Context, driverID, amountStr, rewardType string) (*Redemption, error) {
	amount, err := credits.Parse(amountStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	rewardType = strings.TrimSpace(rewardType)
	if rewardType == "" {
		return nil, fmt.Errorf("%w: missing reward type", ErrInvalidAmount)
	}

	ctx, span := traces.StartSpan(ctx, "ledger.Redeem",
		traces.DriverID(driverID), traces.Amount(credits.Format(amount)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	unlock, err := s.locks.LockContext(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	relock := func() {
		u, _ := s.locks.LockContext(context.Background(), driverID)
		unlock = u
	}
	defer func() { unlock() }()

	err = retry.DoWithUnlock(ctx, s.attempts, 50*time.Millisecond,
		func() { unlock() }, relock,
		func() error {
			account, err := s.store.GetAccount(ctx, driverID)
			if err != nil {
				return err
			}
			if !account.IsActive {
				return retry.Permanent(ErrAccountInactive)
			}

			balance, err := credits.Parse(account.CurrentBalance)
			if err != nil {
				return retry.Permanent(fmt.Errorf("corrupt currentBalance: %w", err))
			}
			if credits.Cmp(amount, balance) > 0 {
				return retry.Permanent(fmt.Errorf("%w: have %s, want %s",
					ErrInsufficientBalance, account.CurrentBalance, credits.Format(amount)))
			}

			redeemed, err := credits.Parse(account.TotalRedeemed)
			if err != nil {
				return retry.Permanent(fmt.Errorf("corrupt totalRedeemed: %w", err))
			}

			account.CurrentBalance = credits.Format(credits.Sub(balance, amount))
			account.TotalRedeemed = credits.Format(credits.Add(redeemed, amount))
			account.LastUpdateTime = time.Now().UTC()

			return s.store.UpdateAccountCAS(ctx, account, account.Version)
		})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RedemptionsTotal.WithLabelValues("rejected").Inc()
		}
		return nil, s.mapStoreErr(ctx, err)
	}

	redemption := &Redemption{
		ID:         idgen.WithPrefix("red_"),
		DriverID:   driverID,
		Amount:     credits.Format(amount),
		RewardType: rewardType,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.SaveRedemption(ctx, redemption); err != nil {
		// The balance mutation already landed; the receipt write failing is
		// logged loudly rather than rolled back.
		logging.L(ctx).Error("redemption record write failed",
			"driver_id", driverID, "redemption_id", redemption.ID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.RedemptionsTotal.WithLabelValues("ok").Inc()
	}
	logging.L(ctx).Info("credits redeemed",
		"driver_id", driverID,
		"amount", redemption.Amount,
		"reward_type", rewardType)
	return redemption, nil
}

// ListRedemptions returns the driver's redemption receipts, newest first.
func (s *Service) ListRedemptions(ctx context.Context, driverID string, limit, offset int) ([]*Redemption, error) {
	return s.store.ListRedemptions(ctx, driverID, limit, offset)
}

// ListRedemptionsBefore returns receipts strictly older than the keyset
// position, newest first. Backs cursor pagination over the receipt history.
func (s *Service) ListRedemptionsBefore(ctx context.Context, driverID string, before time.Time, beforeID string, limit int) ([]*Redemption, error) {
	return s.store.ListRedemptionsBefore(ctx, driverID, before, beforeID, limit)
}

// CheckAchievementEligibility returns the highest not-yet-minted tier the
// driver qualifies for, or nil. Read-only.
func (s *Service) CheckAchievementEligibility(ctx context.Context, driverID string) (*EligibleAchievement, error) {
	logCount, err := s.store.CountLogs(ctx, driverID)
	if err != nil {
		return nil, err
	}
	account, err := s.store.GetAccount(ctx, driverID)
	if err != nil {
		return nil, err
	}
	earned, err := credits.Parse(account.TotalEarned)
	if err != nil {
		return nil, fmt.Errorf("corrupt totalEarned: %w", err)
	}

	minted, err := s.store.ListAchievements(ctx, driverID)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(minted))
	for _, a := range minted {
		have[a.Type] = true
	}

	for _, tier := range achievementTiers {
		if have[tier.Type] {
			continue
		}
		if logCount >= tier.MinLogs && credits.Cmp(earned, tier.MinEarned) >= 0 {
			return &EligibleAchievement{
				Type:        tier.Type,
				Requirement: tierRequirement(tier),
				RewardBonus: credits.Format(tier.Bonus),
			}, nil
		}
	}
	return nil, nil
}

// EligibleAchievement is the eligibility response shape.
type EligibleAchievement struct {
	Type        string `json:"type"`
	Requirement string `json:"requirement"`
	RewardBonus string `json:"rewardBonus"`
}

func tierRequirement(t achievementTier) string {
	return fmt.Sprintf("%d wellness logs and %s credits earned",
		t.MinLogs, credits.Format(t.MinEarned))
}

// MintAchievement creates the unique achievement record and applies its bonus
// through the same mint path as session settlement, keyed by achievement so a
// replay cannot double-credit.
func (s *Service) MintAchievement(ctx context.Context, driverID, achievementType string, safetyScore int, drivingHours float64) (*Achievement, error) {
	var tier *achievementTier
	for i := range achievementTiers {
		if achievementTiers[i].Type == achievementType {
			tier = &achievementTiers[i]
			break
		}
	}
	if tier == nil {
		return nil, fmt.Errorf("%w: unknown achievement type %q", ErrInvalidAmount, achievementType)
	}

	if existing, err := s.store.GetAchievement(ctx, driverID, achievementType); err == nil && existing != nil {
		// A replay may be recovering from a failure between the achievement
		// record and its bonus credit. The bonus settlement is keyed by
		// achievement, so driving it to completion here cannot double-credit.
		if err := s.creditAchievementBonus(ctx, existing); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrAlreadyMinted, achievementType)
	}

	ctx, span := traces.StartSpan(ctx, "ledger.MintAchievement",
		traces.DriverID(driverID), traces.Reference(achievementType))
	defer span.End()

	achievement := &Achievement{
		ID:          idgen.WithPrefix("ach_"),
		DriverID:    driverID,
		Type:        achievementType,
		Requirement: tierRequirement(*tier),
		RewardBonus: credits.Format(tier.Bonus),
		SafetyScore: safetyScore,
		DrivingHrs:  drivingHours,
		MintedAt:    time.Now().UTC(),
	}

	if err := s.store.SaveAchievement(ctx, achievement); err != nil {
		if errors.Is(err, ErrAlreadyMinted) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyMinted, achievementType)
		}
		return nil, s.mapStoreErr(ctx, err)
	}

	if err := s.creditAchievementBonus(ctx, achievement); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AchievementsMinted.WithLabelValues(achievementType).Inc()
	}
	logging.L(ctx).Info("achievement minted",
		"driver_id", driverID,
		"type", achievementType,
		"bonus", achievement.RewardBonus)
	return achievement, nil
}

// creditAchievementBonus applies the bonus through the settlement path: same
// invariants, same idempotency, keyed by achievement instead of session. A
// bonus that already landed surfaces as ErrDuplicateSettle and is a success.
func (s *Service) creditAchievementBonus(ctx context.Context, a *Achievement) error {
	bonus := &Settlement{
		SessionID:   fmt.Sprintf("ach_%s_%s", a.Type, a.DriverID),
		DriverID:    a.DriverID,
		Amount:      a.RewardBonus,
		SafetyScore: a.SafetyScore,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.mint(ctx, a.DriverID, bonus); err != nil && !errors.Is(err, ErrDuplicateSettle) {
		return err
	}
	return nil
}

// ListAchievements returns the driver's minted achievements.
func (s *Service) ListAchievements(ctx context.Context, driverID string) ([]*Achievement, error) {
	return s.store.ListAchievements(ctx, driverID)
}

// withDeadline runs fn under the ledger timeout, mapping deadline expiry to
// ErrTimeout so callers can tell "unknown outcome" from a rejection.
func (s *Service) withDeadline(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(ctx)
	return s.mapStoreErr(ctx, err)
}

func (s *Service) mapStoreErr(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, ErrBelowThreshold),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrAlreadyMinted),
		errors.Is(err, ErrDuplicateSettle),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrLogNotFound),
		errors.Is(err, ErrIntegrity):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
}
