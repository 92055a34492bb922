// Package transaction orchestrates the envelope lifecycle: prepare an unsigned
// message from current ledger state, accept it back signed, submit it and
// report a typed outcome. Every step is journaled with compare-and-set
// transitions so a signed envelope is submitted at most once.
package transaction

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/ledger"
	"github.com/fastygo/taskledger/internal/ledger/program"
	"github.com/fastygo/taskledger/internal/metrics"
	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/usecase"
	"github.com/fastygo/taskledger/usecase/task"
)

const anchorExpired = "anchor expired before inclusion"

type Config struct {
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	// PreparedTTL is how long an unsigned envelope may wait before the reconciler expires it.
	PreparedTTL time.Duration
}

type UseCase struct {
	ledger   ledger.Client
	reader   *task.UseCase
	journal  repository.TransactionJournal
	builders *usecase.Dispatcher[domain.Operation, buildRequest, *build]
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*UseCase)

func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) { uc.now = now }
}

func New(client ledger.Client, reader *task.UseCase, journal repository.TransactionJournal, cfg Config, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if cfg.PreparedTTL <= 0 {
		cfg.PreparedTTL = 10 * time.Minute
	}
	uc := &UseCase{
		ledger:  client,
		reader:  reader,
		journal: journal,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	uc.builders = uc.registerBuilders()
	return uc
}

// Prepare builds the unsigned envelope for payload on behalf of the session identity.
func (uc *UseCase) Prepare(ctx context.Context, session *domain.Session, payload domain.Payload) (env *domain.UnsignedEnvelope, err error) {
	if session == nil {
		return nil, domain.ErrUnauthorized
	}
	if payload == nil {
		return nil, domain.PreparationFailed(domain.ErrInvalidPayload)
	}
	op := payload.Operation()
	defer func() { uc.metrics.Prepared(string(op), err) }()

	if err := payload.Validate(); err != nil {
		return nil, domain.PreparationFailed(err)
	}
	identity := session.Identity
	b, err := uc.builders.Execute(ctx, op, buildRequest{identity: identity, payload: payload})
	if err != nil {
		return nil, domain.PreparationFailed(err)
	}

	anchor, err := uc.ledger.LatestAnchor(ctx)
	if err != nil {
		return nil, domain.PreparationFailed(domain.WrapError(domain.ErrCodeInternal, "fetch anchor", err))
	}
	b.accounts.Authority = identity
	ix := program.Build(uc.reader.Addresses().ProgramID, b.ix, b.accounts)
	msg := &ledger.Message{Anchor: anchor.Hash, FeePayer: identity, Instructions: []ledger.Instruction{ix}}
	raw, err := msg.Marshal()
	if err != nil {
		return nil, domain.PreparationFailed(domain.WrapError(domain.ErrCodeInternal, "encode message", err))
	}

	now := uc.now()
	env = &domain.UnsignedEnvelope{
		ID:              uuid.NewString(),
		Operation:       op,
		Signer:          identity,
		Message:         raw,
		Accounts:        accountRefs(op, ix.Accounts),
		Anchor:          anchor.Hash,
		LastValidHeight: anchor.LastValidHeight,
		TaskID:          b.taskID,
		PreparedAt:      now,
	}
	hash := sha256.Sum256(raw)
	record := &domain.TxRecord{
		ID:              env.ID,
		Identity:        identity,
		Operation:       op,
		State:           domain.TxPrepared,
		MessageHash:     hash[:],
		Anchor:          anchor.Hash,
		LastValidHeight: anchor.LastValidHeight,
		TaskID:          b.taskID,
	}
	record.Touch(now)
	if err := uc.journal.Create(ctx, record); err != nil {
		return nil, domain.PreparationFailed(domain.WrapError(domain.ErrCodeInternal, "journal envelope", err))
	}

	uc.logger.Debug("envelope prepared",
		zap.String("envelope_id", env.ID),
		zap.String("operation", string(op)),
		zap.String("identity", identity.String()),
		zap.Uint64("task_id", b.taskID),
	)
	return env, nil
}

// Submit verifies a signed envelope, sends it once and waits for a terminal outcome.
// Failures before the ledger is contacted are errors; everything after is an Outcome.
func (uc *UseCase) Submit(ctx context.Context, session *domain.Session, signed domain.SignedEnvelope) (*domain.Outcome, error) {
	rec, err := uc.owned(ctx, session, signed.ID)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(signed.Message)
	if !bytes.Equal(hash[:], rec.MessageHash) {
		return nil, domain.ErrEnvelopeMismatch
	}
	if rec.State != domain.TxPrepared {
		return nil, domain.ErrEnvelopeAlreadySubmitted.WithMessage("envelope %s is %s; prepare a new one", rec.ID, rec.State)
	}
	tx, err := ledger.AssembleTransaction(signed.Message, signed.Signature)
	if err != nil {
		return nil, domain.ErrInvalidSignature.WithErr(err)
	}
	if err := tx.Verify(); err != nil {
		return nil, domain.ErrInvalidSignature
	}

	rec.Signature = signed.Signature.String()
	if err := uc.transition(ctx, rec, domain.TxPrepared, domain.TxSigned); err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			return nil, domain.ErrEnvelopeAlreadySubmitted
		}
		return nil, err
	}

	started := uc.now()
	valid, err := uc.ledger.AnchorValid(ctx, rec.Anchor)
	if err != nil {
		// Nothing was sent, so the envelope goes back to prepared and can be submitted again.
		rec.Signature = ""
		if rbErr := uc.transition(context.WithoutCancel(ctx), rec, domain.TxSigned, domain.TxPrepared); rbErr != nil {
			uc.logger.Warn("failed to release envelope after anchor check", zap.String("envelope_id", rec.ID), zap.Error(rbErr))
		}
		return nil, domain.WrapError(domain.ErrCodeInternal, "check anchor", err)
	}
	if !valid {
		return uc.finish(ctx, rec, domain.TxFailed, "anchor expired", 0, started)
	}

	if err := uc.transition(ctx, rec, domain.TxSigned, domain.TxSubmitted); err != nil {
		return nil, err
	}
	if _, err := uc.ledger.Send(ctx, tx.Marshal()); err != nil {
		if ledger.IsRejection(err) {
			return uc.finish(ctx, rec, domain.TxFailed, err.Error(), 0, started)
		}
		// Transport failure: the ledger may or may not have the transaction.
		uc.logger.Warn("send failed", zap.String("envelope_id", rec.ID), zap.Error(err))
		return uc.finish(ctx, rec, domain.TxTimedOut, "", 0, started)
	}
	return uc.await(ctx, rec, tx.ID(), started)
}

func (uc *UseCase) await(ctx context.Context, rec *domain.TxRecord, sig domain.Signature, started time.Time) (*domain.Outcome, error) {
	timeout := time.NewTimer(uc.cfg.ConfirmTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(uc.cfg.PollInterval)
	defer ticker.Stop()

	for {
		state, ledgerErr, slot, resolved := uc.resolve(ctx, rec.Anchor, sig)
		if resolved {
			return uc.finish(ctx, rec, state, ledgerErr, slot, started)
		}
		select {
		case <-ctx.Done():
			return uc.finish(ctx, rec, domain.TxTimedOut, "", 0, started)
		case <-timeout.C:
			return uc.finish(ctx, rec, domain.TxTimedOut, "", 0, started)
		case <-ticker.C:
		}
	}
}

// resolve asks the ledger about sig. It reports resolved=false while the
// transaction can still land.
func (uc *UseCase) resolve(ctx context.Context, anchor domain.Hash, sig domain.Signature) (domain.TxState, string, uint64, bool) {
	st, err := uc.ledger.SignatureStatus(ctx, sig)
	if err != nil {
		return "", "", 0, false
	}
	if st != nil {
		if st.Err != nil {
			return domain.TxFailed, st.Err.Error(), st.Slot, true
		}
		return domain.TxConfirmed, "", st.Slot, true
	}
	valid, err := uc.ledger.AnchorValid(ctx, anchor)
	if err != nil || valid {
		return "", "", 0, false
	}
	// Inclusion may have raced the expiry check.
	if st, err := uc.ledger.SignatureStatus(ctx, sig); err == nil && st != nil {
		if st.Err != nil {
			return domain.TxFailed, st.Err.Error(), st.Slot, true
		}
		return domain.TxConfirmed, "", st.Slot, true
	}
	return domain.TxFailed, anchorExpired, 0, true
}

func (uc *UseCase) finish(ctx context.Context, rec *domain.TxRecord, to domain.TxState, ledgerErr string, slot uint64, started time.Time) (*domain.Outcome, error) {
	from := rec.State
	rec.LedgerError = ledgerErr
	rec.Slot = slot
	if err := uc.transition(context.WithoutCancel(ctx), rec, from, to); err != nil {
		uc.logger.Error("journal transition failed",
			zap.String("envelope_id", rec.ID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err),
		)
	}

	out := &domain.Outcome{
		EnvelopeID:    rec.ID,
		Operation:     rec.Operation,
		TransactionID: rec.Signature,
		LedgerError:   ledgerErr,
		TaskID:        rec.TaskID,
		Slot:          slot,
	}
	switch to {
	case domain.TxConfirmed:
		out.Status = domain.OutcomeConfirmed
	case domain.TxFailed:
		out.Status = domain.OutcomeRejected
	default:
		out.Status = domain.OutcomeTimedOut
	}
	uc.metrics.Outcome(string(rec.Operation), string(out.Status), uc.now().Sub(started))
	uc.logger.Info("envelope resolved",
		zap.String("envelope_id", rec.ID),
		zap.String("operation", string(rec.Operation)),
		zap.String("status", string(out.Status)),
		zap.String("transaction_id", rec.Signature),
		zap.String("ledger_error", ledgerErr),
	)
	return out, nil
}

// Cancel records that the caller declined to sign. Cancelling twice is a no-op.
func (uc *UseCase) Cancel(ctx context.Context, session *domain.Session, id string) error {
	rec, err := uc.owned(ctx, session, id)
	if err != nil {
		return err
	}
	switch rec.State {
	case domain.TxCancelled:
		return nil
	case domain.TxPrepared:
	default:
		return domain.ErrEnvelopeAlreadySubmitted.WithMessage("envelope %s is %s and can no longer be cancelled", rec.ID, rec.State)
	}
	if err := uc.transition(ctx, rec, domain.TxPrepared, domain.TxCancelled); err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			return domain.ErrEnvelopeAlreadySubmitted
		}
		return err
	}
	return nil
}

// Get returns the journal record of an envelope the session owns.
func (uc *UseCase) Get(ctx context.Context, session *domain.Session, id string) (*domain.TxRecord, error) {
	return uc.owned(ctx, session, id)
}

func (uc *UseCase) owned(ctx context.Context, session *domain.Session, id string) (*domain.TxRecord, error) {
	if session == nil {
		return nil, domain.ErrUnauthorized
	}
	rec, err := uc.journal.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Other identities' envelopes are indistinguishable from missing ones.
	if rec.Identity != session.Identity {
		return nil, domain.ErrEnvelopeNotFound
	}
	return rec, nil
}

func (uc *UseCase) transition(ctx context.Context, rec *domain.TxRecord, from, to domain.TxState) error {
	rec.State = to
	rec.Touch(uc.now())
	if err := uc.journal.Transition(ctx, rec, from); err != nil {
		rec.State = from
		return err
	}
	return nil
}

func accountRefs(op domain.Operation, metas []ledger.AccountMeta) []domain.AccountRef {
	roles := program.Roles(op)
	refs := make([]domain.AccountRef, len(metas))
	for i, m := range metas {
		refs[i] = domain.AccountRef{Address: m.Pubkey, Signer: m.Signer, Writable: m.Writable}
		if i < len(roles) {
			refs[i].Role = roles[i]
		}
	}
	return refs
}
