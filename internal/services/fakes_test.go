package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"eventmart/internal/gateway"
	"eventmart/internal/status"
	"eventmart/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// In-memory collaborators mirroring the repository guards: conditional
// capacity updates, unique idempotency keys, versioned wallet writes and
// status-guarded transitions.

type fakeUnitStore struct {
	mu    sync.Mutex
	units map[string]*models.SellableUnit
}

func newFakeUnitStore(units ...*models.SellableUnit) *fakeUnitStore {
	s := &fakeUnitStore{units: map[string]*models.SellableUnit{}}
	for _, u := range units {
		cp := *u
		s.units[u.ID] = &cp
	}
	return s
}

func (s *fakeUnitStore) Get(_ context.Context, unitID string) (*models.SellableUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[unitID]
	if !ok {
		return nil, status.ErrUnitNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUnitStore) ReserveCapacity(_ context.Context, unitID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[unitID]
	if !ok {
		return status.ErrUnitNotFound
	}
	if !u.Active {
		return status.ErrUnitInactive
	}
	if u.Reserved+quantity > u.Capacity {
		return status.ErrCapacityExceeded
	}
	u.Reserved += quantity
	return nil
}

func (s *fakeUnitStore) ReleaseCapacity(_ context.Context, unitID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[unitID]
	if !ok {
		return status.ErrUnitNotFound
	}
	if u.Reserved < quantity {
		return fmt.Errorf("release exceeds reserved count")
	}
	u.Reserved -= quantity
	return nil
}

func (s *fakeUnitStore) reserved(unitID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[unitID].Reserved
}

type fakeTxStore struct {
	mu   sync.Mutex
	seq  int
	byID map[string]*models.Transaction
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{byID: map[string]*models.Transaction{}}
}

func (s *fakeTxStore) Create(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.IdempotencyKey == tx.IdempotencyKey {
			return fmt.Errorf("UNIQUE constraint failed: transactions.idempotency_key")
		}
	}
	s.seq++
	tx.ID = fmt.Sprintf("tx%d", s.seq)
	tx.CreatedAt = time.Now()
	cp := *tx
	s.byID[tx.ID] = &cp
	return nil
}

func (s *fakeTxStore) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return nil, status.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *fakeTxStore) GetByIdempotencyKey(_ context.Context, key string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.byID {
		if tx.IdempotencyKey == key {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, status.ErrTransactionNotFound
}

func (s *fakeTxStore) GetByProviderOrder(_ context.Context, providerOrderID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.byID {
		if tx.ProviderOrderID == providerOrderID {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, status.ErrTransactionNotFound
}

func (s *fakeTxStore) SetIntent(_ context.Context, id, providerOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return status.ErrTransactionNotFound
	}
	tx.ProviderOrderID = providerOrderID
	return nil
}

func (s *fakeTxStore) Transition(_ context.Context, id, from, to string) (bool, error) {
	return s.transition(id, from, to, "")
}

func (s *fakeTxStore) TransitionTx(_ context.Context, _ core.App, id, from, to string) (bool, error) {
	return s.transition(id, from, to, "")
}

func (s *fakeTxStore) Fail(_ context.Context, id, from, reason string) (bool, error) {
	return s.transition(id, from, models.TxStatusFailed, reason)
}

func (s *fakeTxStore) transition(id, from, to, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return false, status.ErrTransactionNotFound
	}
	if tx.Status != from {
		return false, nil
	}
	tx.Status = to
	if reason != "" {
		tx.FailureReason = reason
	}
	return true, nil
}

func (s *fakeTxStore) SetSettlement(_ context.Context, _ core.App, id, providerPaymentID string, coinsEarned int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return status.ErrTransactionNotFound
	}
	tx.ProviderPaymentID = providerPaymentID
	tx.CoinsEarned = coinsEarned
	now := time.Now()
	tx.SettledAt = &now
	return nil
}

func (s *fakeTxStore) ListByStatusOlderThan(_ context.Context, st string, _ time.Time, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, tx := range s.byID {
		if tx.Status == st && len(out) < limit {
			out = append(out, *tx)
		}
	}
	return out, nil
}

type fakeWalletStore struct {
	mu        sync.Mutex
	balances  map[string]int64
	versions  map[string]int64
	entries   []models.LedgerEntry
	conflicts int // ApplyTx calls to reject with a version conflict first
}

func newFakeWalletStore() *fakeWalletStore {
	return &fakeWalletStore{
		balances: map[string]int64{},
		versions: map[string]int64{},
	}
}

func (s *fakeWalletStore) Get(_ context.Context, userID string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &models.Wallet{
		UserID:  userID,
		Balance: s.balances[userID],
		Version: s.versions[userID],
	}, nil
}

func (s *fakeWalletStore) ApplyTx(_ context.Context, _ core.App, wallet *models.Wallet, entries []models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return status.ErrLedgerConflict
	}
	if wallet.Version != s.versions[wallet.UserID] {
		return status.ErrLedgerConflict
	}
	var delta int64
	for _, e := range entries {
		delta += e.Delta
	}
	if s.balances[wallet.UserID]+delta < 0 {
		return status.ErrInsufficientCoins
	}
	s.balances[wallet.UserID] += delta
	s.versions[wallet.UserID]++
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *fakeWalletStore) HasEntry(_ context.Context, transactionID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.TransactionID == transactionID && e.Reason == reason {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeWalletStore) Entries(_ context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].WalletUserID == userID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *fakeWalletStore) LedgerSum(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, e := range s.entries {
		if e.WalletUserID == userID {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (s *fakeWalletStore) entriesFor(transactionID string) []models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out
}

type fakeDrawStore struct {
	mu    sync.Mutex
	byTxn map[string]*models.RewardDraw
}

func newFakeDrawStore() *fakeDrawStore {
	return &fakeDrawStore{byTxn: map[string]*models.RewardDraw{}}
}

func (s *fakeDrawStore) CreateTx(_ context.Context, _ core.App, draw *models.RewardDraw) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byTxn[draw.TransactionID]; exists {
		return status.ErrAlreadyDrawn
	}
	draw.ID = "draw-" + draw.TransactionID
	cp := *draw
	s.byTxn[draw.TransactionID] = &cp
	return nil
}

func (s *fakeDrawStore) GetByTransaction(_ context.Context, transactionID string) (*models.RewardDraw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draw, ok := s.byTxn[transactionID]
	if !ok {
		return nil, fmt.Errorf("draw not found")
	}
	cp := *draw
	return &cp, nil
}

type fakeGateway struct {
	mu          sync.Mutex
	createCalls int
	failCreate  bool
	orderStates map[string]string // provider order id -> state for CheckOrder
}

func (g *fakeGateway) CreateIntent(_ context.Context, amount decimal.Decimal, currency, transactionID string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.failCreate {
		return nil, fmt.Errorf("provider unreachable")
	}
	return &gateway.Intent{
		ProviderOrderID: "order-" + transactionID,
		PayCode:         "PAY-" + transactionID,
	}, nil
}

func (g *fakeGateway) CheckOrder(_ context.Context, providerOrderID string) (*gateway.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.orderStates[providerOrderID]
	if !ok {
		return &gateway.OrderStatus{ProviderOrderID: providerOrderID, State: gateway.OrderStatePending}, nil
	}
	return &gateway.OrderStatus{
		ProviderOrderID:   providerOrderID,
		ProviderPaymentID: "poll-" + providerOrderID,
		State:             state,
	}, nil
}

func (g *fakeGateway) setOrderState(providerOrderID, state string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orderStates == nil {
		g.orderStates = map[string]string{}
	}
	g.orderStates[providerOrderID] = state
}

func (g *fakeGateway) VerifyCallback(providerOrderID, providerPaymentID, signature string) bool {
	if providerOrderID == "" || providerPaymentID == "" || signature == "" {
		return false
	}
	return signature == fakeSignature(providerOrderID, providerPaymentID)
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls
}

func fakeSignature(orderID, paymentID string) string {
	return "sig:" + orderID + "|" + paymentID
}

// fakeAtomic mimics transaction rollback: on error every store is
// restored to its pre-call state, matching what the database transaction
// would undo.
type fakeAtomic struct {
	txs     *fakeTxStore
	wallets *fakeWalletStore
	draws   *fakeDrawStore
}

func (a fakeAtomic) RunInTransaction(fn func(txApp core.App) error) error {
	txSnap := a.txs.snapshot()
	walletSnap := a.wallets.snapshot()
	drawSnap := a.draws.snapshot()

	if err := fn(nil); err != nil {
		a.txs.restore(txSnap)
		a.wallets.restore(walletSnap)
		a.draws.restore(drawSnap)
		return err
	}
	return nil
}

func (s *fakeTxStore) snapshot() map[string]models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(map[string]models.Transaction, len(s.byID))
	for id, tx := range s.byID {
		snap[id] = *tx
	}
	return snap
}

func (s *fakeTxStore) restore(snap map[string]models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*models.Transaction, len(snap))
	for id := range snap {
		tx := snap[id]
		s.byID[id] = &tx
	}
}

type walletSnapshot struct {
	balances map[string]int64
	versions map[string]int64
	entries  []models.LedgerEntry
}

func (s *fakeWalletStore) snapshot() walletSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := walletSnapshot{
		balances: make(map[string]int64, len(s.balances)),
		versions: make(map[string]int64, len(s.versions)),
		entries:  append([]models.LedgerEntry(nil), s.entries...),
	}
	for k, v := range s.balances {
		snap.balances[k] = v
	}
	for k, v := range s.versions {
		snap.versions[k] = v
	}
	return snap
}

func (s *fakeWalletStore) restore(snap walletSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = snap.balances
	s.versions = snap.versions
	s.entries = snap.entries
}

func (s *fakeDrawStore) snapshot() map[string]models.RewardDraw {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(map[string]models.RewardDraw, len(s.byTxn))
	for id, draw := range s.byTxn {
		snap[id] = *draw
	}
	return snap
}

func (s *fakeDrawStore) restore(snap map[string]models.RewardDraw) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTxn = make(map[string]*models.RewardDraw, len(snap))
	for id := range snap {
		draw := snap[id]
		s.byTxn[id] = &draw
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []map[string]any
}

func (n *recordingNotifier) Push(_ string, message map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}
