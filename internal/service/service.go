// Package service is the API surface of the convergence subsystem. It wires
// storage, the trust engine, the anti-gaming detector, the policy store, the
// darwin cycle, and the witness chain behind one concurrency-safe type.
package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sab-lab/convergence/internal/config"
	"github.com/sab-lab/convergence/internal/policy"
	"github.com/sab-lab/convergence/internal/storage"
	"github.com/sab-lab/convergence/internal/types"
	"github.com/sab-lab/convergence/internal/witness"
)

// Witness chain action names
const (
	actionIdentityRegistered = "identity_registered"
	actionSignalIngested     = "dgc_signal_ingested"
	actionOutcomeRecorded    = "outcome_recorded"
	actionTrustAdjusted      = "trust_adjustment_set"
	actionClawbackApplied    = "clawback_applied"
	actionPolicyUpdated      = "policy_updated"
	actionDarwinCycle        = "darwin_cycle"
)

// Service exposes every convergence operation. Safe for concurrent use; all
// cross-row invariants are enforced by the storage layer's uniqueness
// constraints plus the reconcile loops here, except the witness chain which
// serializes its own appends.
type Service struct {
	store    storage.Storage
	chain    *witness.Chain
	policies *policy.Store
	darwin   *policy.Darwin
	cfg      *config.Config
	logger   *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// adjustMu serializes the append-outcome / read-history / write-adjustment
	// sequence so concurrent revisions of one event cannot persist a stale
	// decomposition over a newer one
	adjustMu sync.Mutex
}

// New wires a service over the given backend
func New(store storage.Storage, cfg *config.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	policies := policy.NewStore(store, logger)
	return &Service{
		store:    store,
		chain:    witness.NewChain(store, logger),
		policies: policies,
		darwin:   policy.NewDarwin(store, policies, logger, cfg.DarwinValidationCmds, cfg.DarwinValidationTimeout),
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// checkSecret gates signal ingestion. Production with no configured secret
// fails closed; a configured secret is compared in constant time.
func (s *Service) checkSecret(supplied string) error {
	if s.cfg.DGCSharedSecret == "" {
		if s.cfg.Environment == "production" && !s.cfg.AllowDevSecret {
			return &types.ConfigurationError{
				Setting: "CONVERGENCE_DGC_SHARED_SECRET",
				Reason:  "shared secret is not configured",
			}
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.cfg.DGCSharedSecret)) != 1 {
		return &types.ValidationError{Field: "shared_secret", Reason: "secret mismatch"}
	}
	return nil
}

// maxIngestLimiters bounds the per-agent limiter map. Evicting an arbitrary
// entry at the cap only resets that agent's bucket to full burst, which is
// the safe direction for a rate limiter.
const maxIngestLimiters = 4096

// allowIngest applies the per-agent rate limit
func (s *Service) allowIngest(agentAddress string) bool {
	if s.cfg.IngestRate <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[agentAddress]
	if !ok {
		if len(s.limiters) >= maxIngestLimiters {
			for addr := range s.limiters {
				delete(s.limiters, addr)
				break
			}
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.IngestRate), s.cfg.IngestBurst)
		s.limiters[agentAddress] = limiter
	}
	return limiter.Allow()
}

// witnessAction appends to the chain and returns the record hash. Chain
// failures abort the calling operation; an unwitnessed mutation must not
// succeed silently.
func (s *Service) witnessAction(ctx context.Context, actor, action, subject string, meta map[string]any) (string, error) {
	record, err := s.chain.Append(ctx, actor, action, subject, meta)
	if err != nil {
		return "", fmt.Errorf("failed to witness %s: %w", action, err)
	}
	return record.Hash, nil
}

// WitnessList returns chain records most-recent-first, optionally filtered by
// subject
func (s *Service) WitnessList(ctx context.Context, subject string, limit, offset int) ([]*types.WitnessRecord, error) {
	return s.chain.List(ctx, subject, limit, offset)
}

// WitnessVerify replays the full chain and returns the number of verified
// records. A ChainIntegrityError pinpoints the first corrupted record.
func (s *Service) WitnessVerify(ctx context.Context) (int, error) {
	return s.chain.VerifyAll(ctx)
}
