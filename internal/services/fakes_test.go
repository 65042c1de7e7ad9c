package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/keyless-tips/backend/internal/currency"
	"github.com/keyless-tips/backend/internal/events"
	"github.com/keyless-tips/backend/internal/ledger"
	"github.com/keyless-tips/backend/internal/models"
	"github.com/keyless-tips/backend/internal/repositories"
)

// memStore mirrors the postgres repositories closely enough for the
// orchestrator: profile aggregates move together with tip inserts and
// tx_hash is unique.
type memStore struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*models.Profile
	tips     map[uuid.UUID]*models.Tip
	order    []uuid.UUID

	createErr error
	clock     time.Time
	// strictCtx makes ledger bookkeeping writes fail on a done context, the
	// way pgx does.
	strictCtx bool
}

func (m *memStore) ctxErr(ctx context.Context) error {
	if m.strictCtx {
		return ctx.Err()
	}
	return nil
}

func newMemStore() *memStore {
	return &memStore{
		profiles: make(map[uuid.UUID]*models.Profile),
		tips:     make(map[uuid.UUID]*models.Tip),
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) addProfile(slug, address string) *models.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.Profile{ID: uuid.New(), Slug: slug, Address: address, Category: models.CategoryCreator, DisplayName: slug}
	m.profiles[p.ID] = p
	return p
}

func (m *memStore) profile(slug string) models.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.Slug == slug {
			return *p
		}
	}
	return models.Profile{}
}

func (m *memStore) tip(id uuid.UUID) models.Tip {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tips[id]
}

func (m *memStore) tipCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tips)
}

// ProfileStore

func (m *memStore) Create(_ context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.profiles {
		if existing.Slug == p.Slug || existing.Address == p.Address {
			return repositories.ErrDuplicate
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = m.clock
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetBySlug(_ context.Context, slug string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memStore) GetByAddress(_ context.Context, address string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.Address == address {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memStore) SetLedgerTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	if err := m.ctxErr(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[id]; ok && p.LedgerTxHash == nil {
		p.LedgerTxHash = &txHash
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok || p.TipCount > 0 {
		return repositories.ErrNotFound
	}
	delete(m.profiles, id)
	return nil
}

// TipStore

type memTips struct{ *memStore }

func (m memTips) CreateWithAggregate(_ context.Context, t *models.Tip) (*models.Tip, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, false, m.createErr
	}
	p, ok := m.profiles[t.ProfileID]
	if !ok {
		return nil, false, repositories.ErrNotFound
	}
	if t.TxHash != nil {
		for _, existing := range m.tips {
			if existing.TxHash != nil && *existing.TxHash == *t.TxHash {
				cp := *existing
				return &cp, false, nil
			}
		}
	}
	cp := *t
	cp.ID = uuid.New()
	cp.ProfileSlug = p.Slug
	cp.CreatedAt = m.clock
	m.tips[cp.ID] = &cp
	m.order = append(m.order, cp.ID)

	p.TotalTipsCents += t.AmountCents
	p.TipCount++
	p.AverageTipCents = currency.RoundDiv(p.TotalTipsCents, p.TipCount)

	out := cp
	return &out, true, nil
}

func (m memTips) GetByID(_ context.Context, id uuid.UUID) (*models.Tip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tips[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m memTips) AttachTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	if err := m.ctxErr(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tips[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if t.TxHash != nil {
		if *t.TxHash == txHash {
			return nil
		}
		return repositories.ErrTxHashConflict
	}
	for _, other := range m.tips {
		if other.TxHash != nil && *other.TxHash == txHash {
			return repositories.ErrTxHashConflict
		}
	}
	t.TxHash = &txHash
	t.PendingTxHash = nil
	t.LedgerStatus = models.LedgerStatusConfirmed
	return nil
}

func (m memTips) MarkPending(ctx context.Context, id uuid.UUID, pendingHash string) error {
	if err := m.ctxErr(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tips[id]; ok && t.TxHash == nil {
		t.PendingTxHash = &pendingHash
		t.LedgerStatus = models.LedgerStatusPending
	}
	return nil
}

func (m memTips) SetLedgerStatus(ctx context.Context, id uuid.UUID, status string) error {
	if err := m.ctxErr(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tips[id]; ok && t.TxHash == nil {
		t.LedgerStatus = status
	}
	return nil
}

func (m memTips) ListPending(_ context.Context, limit int) ([]models.Tip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Tip
	for _, id := range m.order {
		t := m.tips[id]
		if t.LedgerStatus == models.LedgerStatusPending && t.PendingTxHash != nil {
			out = append(out, *t)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m memTips) ListByProfileSlug(_ context.Context, slug string, limit, offset int) ([]models.Tip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Tip
	for _, t := range m.tips {
		if t.ProfileSlug == slug {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memTips) CountUnsettledSince(_ context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tips {
		if t.TxHash == nil && t.CreatedAt.After(since) &&
			(t.LedgerStatus == models.LedgerStatusPending || t.LedgerStatus == models.LedgerStatusFailed) {
			n++
		}
	}
	return n, nil
}

type memAudit struct {
	mu        sync.Mutex
	entries   []models.AuditLog
	strictCtx bool
}

func (a *memAudit) Log(ctx context.Context, e models.AuditLog) error {
	if a.strictCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) entry(action string) (models.AuditLog, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.Action == action {
			return e, true
		}
	}
	return models.AuditLog{}, false
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type memPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *memPublisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *memPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeLedger answers with a fixed 200 bps split unless overridden.
type fakeLedger struct {
	submitErr error
	outcome   ledger.Outcome
	awaitErr  error
	status    map[string]ledger.Confirmation
	// blockAwait makes AwaitConfirmation wait for its context to end.
	blockAwait bool
	onChain    map[string]bool
	existsErr  error

	mu     sync.Mutex
	owners []string

	submits int64
	awaits  int64
	next    int64
}

func (l *fakeLedger) QuoteTipSplit(_ context.Context, amountCents int64) ledger.Quote {
	fee := amountCents * 200 / 10000
	return ledger.Quote{AmountCents: amountCents, NetCents: amountCents - fee, FeeCents: fee, FeeBPS: 200}
}

func (l *fakeLedger) submit() (string, error) {
	atomic.AddInt64(&l.submits, 1)
	if l.submitErr != nil {
		return "", l.submitErr
	}
	n := atomic.AddInt64(&l.next, 1)
	return "0xhash" + string(rune('a'+n-1)), nil
}

func (l *fakeLedger) SubmitTip(ctx context.Context, _ ledger.Signer, _ string, _ int64, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return l.submit()
}

func (l *fakeLedger) SubmitProfileCreation(ctx context.Context, _ ledger.Signer, owner string, _ uint8) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	l.owners = append(l.owners, owner)
	l.mu.Unlock()
	return l.submit()
}

func (l *fakeLedger) ProfileExists(_ context.Context, addr string) (bool, error) {
	if l.existsErr != nil {
		return false, l.existsErr
	}
	return l.onChain[addr], nil
}

func (l *fakeLedger) submittedOwners() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.owners...)
}

func (l *fakeLedger) AwaitConfirmation(ctx context.Context, txHash string) (ledger.Confirmation, error) {
	atomic.AddInt64(&l.awaits, 1)
	if l.blockAwait {
		<-ctx.Done()
		return ledger.Confirmation{TxHash: txHash, Outcome: ledger.OutcomePending}, ctx.Err()
	}
	if l.awaitErr != nil {
		return ledger.Confirmation{TxHash: txHash, Outcome: ledger.OutcomePending}, l.awaitErr
	}
	outcome := l.outcome
	if outcome == "" {
		outcome = ledger.OutcomeConfirmed
	}
	conf := ledger.Confirmation{TxHash: txHash, Outcome: outcome}
	if outcome == ledger.OutcomeFailed {
		conf.VMStatus = "Move abort in 0xcafe::tipjar: EPAUSED(0x1)"
	}
	return conf, nil
}

func (l *fakeLedger) TransactionStatus(_ context.Context, txHash string) (ledger.Confirmation, error) {
	if conf, ok := l.status[txHash]; ok {
		return conf, nil
	}
	return ledger.Confirmation{TxHash: txHash, Outcome: ledger.OutcomePending}, nil
}

func (l *fakeLedger) calls() int64 {
	return atomic.LoadInt64(&l.submits) + atomic.LoadInt64(&l.awaits)
}

type fakeSigner struct{ addr string }

func (s fakeSigner) Address() string { return s.addr }

func (s fakeSigner) Sign(context.Context, []byte) (*ledger.Signature, error) {
	return nil, errors.New("not used")
}

type memClaims struct {
	mu    sync.Mutex
	taken map[string]bool
}

func (c *memClaims) Claim(_ context.Context, txHash string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.taken[txHash] {
		return false, nil
	}
	c.taken[txHash] = true
	return true, nil
}

func (c *memClaims) Release(_ context.Context, txHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.taken, txHash)
	return nil
}
