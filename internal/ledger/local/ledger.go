// Package local is an in-process ledger: it orders submitted transactions into
// blocks, executes the task program against an account store, and exposes the
// result through ledger.Client.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/ledger"
	"github.com/fastygo/taskledger/internal/ledger/program"
)

const defaultMaxAnchorAge = 150

var (
	ErrProgramNotFound    = &ledger.TxError{Code: "ProgramNotFound", Message: "instruction targets an unknown program"}
	ErrAccountNotWritable = &ledger.TxError{Code: "AccountNotWritable", Message: "instruction wrote an account not marked writable"}
	ErrStorageFailure     = &ledger.TxError{Code: "StorageFailure", Message: "account store rejected the commit"}
)

// Options configures a Ledger.
type Options struct {
	ProgramID domain.Pubkey
	// BlockInterval of zero produces a block synchronously inside every Send.
	BlockInterval time.Duration
	// MaxAnchorAge is how many blocks an anchor stays usable.
	MaxAnchorAge uint64
	Store        AccountStore
	Logger       *zap.Logger
}

type pendingTx struct {
	tx           *ledger.Transaction
	anchorHeight uint64
}

// Ledger implements ledger.Client in memory.
type Ledger struct {
	mu       sync.Mutex
	program  *program.Program
	store    AccountStore
	interval time.Duration
	maxAge   uint64
	logger   *zap.Logger

	height   uint64
	head     domain.Hash
	blocks   map[domain.Hash]uint64
	pending  []pendingTx
	statuses map[domain.Signature]*ledger.Status
	seen     map[domain.Signature]struct{}
	paused   bool
}

// New creates a ledger at genesis.
func New(opts Options) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := opts.Store
	if store == nil {
		store = NewMemoryStore()
	}
	maxAge := opts.MaxAnchorAge
	if maxAge == 0 {
		maxAge = defaultMaxAnchorAge
	}
	genesis := domain.Hash(sha256.Sum256(append([]byte("genesis:"), opts.ProgramID[:]...)))
	return &Ledger{
		program:  program.New(opts.ProgramID),
		store:    store,
		interval: opts.BlockInterval,
		maxAge:   maxAge,
		logger:   logger,
		head:     genesis,
		blocks:   map[domain.Hash]uint64{genesis: 0},
		statuses: make(map[domain.Signature]*ledger.Status),
		seen:     make(map[domain.Signature]struct{}),
	}
}

var _ ledger.Client = (*Ledger)(nil)

// ProgramID is the id of the task program this ledger runs.
func (l *Ledger) ProgramID() domain.Pubkey { return l.program.ID() }

func (l *Ledger) LatestAnchor(ctx context.Context) (ledger.Anchor, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Anchor{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return ledger.Anchor{Hash: l.head, LastValidHeight: l.height + l.maxAge}, nil
}

func (l *Ledger) AnchorValid(ctx context.Context, hash domain.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.anchorValidLocked(hash), nil
}

func (l *Ledger) anchorValidLocked(hash domain.Hash) bool {
	h, ok := l.blocks[hash]
	return ok && l.height <= h+l.maxAge
}

func (l *Ledger) BlockHeight(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height, nil
}

func (l *Ledger) Account(ctx context.Context, addr domain.Pubkey) (*ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acc, ok, err := l.store.Get(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return &acc, nil
}

func (l *Ledger) Accounts(ctx context.Context, addrs []domain.Pubkey) ([]*ledger.Account, error) {
	out := make([]*ledger.Account, len(addrs))
	for i, addr := range addrs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		acc, ok, err := l.store.Get(addr)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = &acc
		}
	}
	return out, nil
}

func (l *Ledger) ProgramAccounts(ctx context.Context, programID domain.Pubkey, discriminator []byte) ([]ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.Scan(programID, discriminator)
}

// Send validates and queues a transaction. With no block interval it is
// included before Send returns unless the ledger is paused.
func (l *Ledger) Send(ctx context.Context, raw []byte) (domain.Signature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signature{}, err
	}
	tx, err := ledger.UnmarshalTransaction(raw)
	if err != nil {
		return domain.Signature{}, err
	}
	if err := tx.Verify(); err != nil {
		return domain.Signature{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	anchorHeight, ok := l.blocks[tx.Message.Anchor]
	if !ok || !l.anchorValidLocked(tx.Message.Anchor) {
		return domain.Signature{}, ledger.ErrAnchorNotFound
	}
	id := tx.ID()
	if _, dup := l.seen[id]; dup {
		return domain.Signature{}, ledger.ErrAlreadyProcessed
	}
	l.seen[id] = struct{}{}
	l.pending = append(l.pending, pendingTx{tx: tx, anchorHeight: anchorHeight})
	l.logger.Debug("transaction queued", zap.String("signature", id.String()), zap.Int("pending", len(l.pending)))

	if l.interval == 0 && !l.paused {
		l.produceLocked()
	}
	return id, nil
}

func (l *Ledger) SignatureStatus(ctx context.Context, sig domain.Signature) (*ledger.Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.statuses[sig]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Pause holds queued transactions out of blocks, simulating congestion.
// Blocks still advance, so held transactions can age past their anchor.
func (l *Ledger) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
}

// Resume lifts Pause; with no block interval the queue is flushed into a block at once.
func (l *Ledger) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
	if l.interval == 0 && len(l.pending) > 0 {
		l.produceLocked()
	}
}

// Advance produces n blocks.
func (l *Ledger) Advance(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < n; i++ {
		l.produceLocked()
	}
}

// Run produces a block every BlockInterval until ctx is done.
func (l *Ledger) Run(ctx context.Context) {
	if l.interval <= 0 {
		return
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			l.produceLocked()
			l.mu.Unlock()
		}
	}
}

// Close releases the account store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func (l *Ledger) produceLocked() {
	l.height++
	slot := l.height

	h := sha256.New()
	h.Write(l.head[:])
	h.Write(binary.LittleEndian.AppendUint64(nil, slot))

	var batch []pendingTx
	if !l.paused {
		batch, l.pending = l.pending, nil
	}
	included := 0
	for _, p := range batch {
		id := p.tx.ID()
		if slot > p.anchorHeight+l.maxAge {
			// Its anchor aged out while queued; it never lands.
			l.logger.Debug("transaction dropped", zap.String("signature", id.String()))
			continue
		}
		h.Write(id[:])
		l.statuses[id] = &ledger.Status{Slot: slot, Err: l.execute(p.tx)}
		included++
	}

	copy(l.head[:], h.Sum(nil))
	l.blocks[l.head] = slot
	l.pruneLocked()
	if included > 0 {
		l.logger.Debug("block produced", zap.Uint64("slot", slot), zap.Int("transactions", included))
	}
}

// pruneLocked forgets block hashes that can no longer anchor anything.
func (l *Ledger) pruneLocked() {
	if l.height <= l.maxAge+1 {
		return
	}
	floor := l.height - l.maxAge - 1
	for hash, height := range l.blocks {
		if height < floor {
			delete(l.blocks, hash)
		}
	}
}

func (l *Ledger) execute(tx *ledger.Transaction) *ledger.TxError {
	view := newOverlay(l.store)
	for i, ix := range tx.Message.Instructions {
		if ix.ProgramID != l.program.ID() {
			return instructionError(ErrProgramNotFound, i)
		}
		view.allow(ix.Accounts)
		err := l.program.Execute(view, ix)
		if err == nil {
			err = view.err()
		}
		if err != nil {
			var txErr *ledger.TxError
			if !errors.As(err, &txErr) {
				txErr = &ledger.TxError{Code: "ProgramFailed", Message: err.Error(), Cause: err}
			}
			return instructionError(txErr, i)
		}
	}
	puts, deletes := view.changes()
	if err := l.store.Commit(puts, deletes); err != nil {
		l.logger.Error("account commit failed", zap.Error(err))
		return &ledger.TxError{Code: ErrStorageFailure.Code, Message: ErrStorageFailure.Message, Cause: err}
	}
	return nil
}

func instructionError(e *ledger.TxError, index int) *ledger.TxError {
	cp := *e
	cp.Instruction = index
	return &cp
}

// overlay buffers one transaction's writes on top of the committed store.
type overlay struct {
	base     AccountStore
	writes   map[domain.Pubkey]*ledger.Account
	order    []domain.Pubkey
	writable map[domain.Pubkey]bool
	failure  error
}

func newOverlay(base AccountStore) *overlay {
	return &overlay{
		base:     base,
		writes:   make(map[domain.Pubkey]*ledger.Account),
		writable: make(map[domain.Pubkey]bool),
	}
}

func (o *overlay) allow(metas []ledger.AccountMeta) {
	for k := range o.writable {
		delete(o.writable, k)
	}
	for _, m := range metas {
		if m.Writable {
			o.writable[m.Pubkey] = true
		}
	}
}

func (o *overlay) Get(addr domain.Pubkey) (ledger.Account, bool) {
	if acc, ok := o.writes[addr]; ok {
		if acc == nil {
			return ledger.Account{}, false
		}
		return cloneAccount(*acc), true
	}
	acc, ok, err := o.base.Get(addr)
	if err != nil && o.failure == nil {
		o.failure = &ledger.TxError{Code: ErrStorageFailure.Code, Message: ErrStorageFailure.Message, Cause: err}
	}
	return acc, ok
}

func (o *overlay) Put(acc ledger.Account) {
	if !o.checkWritable(acc.Address) {
		return
	}
	cp := cloneAccount(acc)
	o.record(acc.Address, &cp)
}

func (o *overlay) Delete(addr domain.Pubkey) {
	if !o.checkWritable(addr) {
		return
	}
	o.record(addr, nil)
}

func (o *overlay) checkWritable(addr domain.Pubkey) bool {
	if o.writable[addr] {
		return true
	}
	if o.failure == nil {
		o.failure = ErrAccountNotWritable
	}
	return false
}

func (o *overlay) record(addr domain.Pubkey, acc *ledger.Account) {
	if _, ok := o.writes[addr]; !ok {
		o.order = append(o.order, addr)
	}
	o.writes[addr] = acc
}

func (o *overlay) err() error { return o.failure }

func (o *overlay) changes() ([]ledger.Account, []domain.Pubkey) {
	var (
		puts    []ledger.Account
		deletes []domain.Pubkey
	)
	for _, addr := range o.order {
		if acc := o.writes[addr]; acc != nil {
			puts = append(puts, *acc)
		} else {
			deletes = append(deletes, addr)
		}
	}
	return puts, deletes
}
