package in_memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
	"github.com/shopspring/decimal"
)

var (
	_ port.Repository = (*MemoryRepo)(nil)
	_ port.Tx         = (*memoryTx)(nil)
)

var errTxDone = errors.New("transaction already finished")

type state struct {
	users    map[uuid.UUID]*domain.User
	listings map[uuid.UUID]*domain.Listing
	bids     map[uuid.UUID][]*domain.Bid
	offers   map[uuid.UUID]*domain.Offer
	trades   map[uuid.UUID]*domain.TradeProposal
	txns     []*domain.Transaction
}

func newState() *state {
	return &state{
		users:    make(map[uuid.UUID]*domain.User),
		listings: make(map[uuid.UUID]*domain.Listing),
		bids:     make(map[uuid.UUID][]*domain.Bid),
		offers:   make(map[uuid.UUID]*domain.Offer),
		trades:   make(map[uuid.UUID]*domain.TradeProposal),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, u := range s.users {
		cu := *u
		c.users[id] = &cu
	}
	for id, l := range s.listings {
		c.listings[id] = l.Clone()
	}
	for id, bs := range s.bids {
		cp := make([]*domain.Bid, len(bs))
		for i, b := range bs {
			cb := *b
			cp[i] = &cb
		}
		c.bids[id] = cp
	}
	for id, o := range s.offers {
		c.offers[id] = o.Clone()
	}
	for id, t := range s.trades {
		c.trades[id] = t.Clone()
	}
	c.txns = append([]*domain.Transaction(nil), s.txns...)
	return c
}

// MemoryRepo is a transactional store for tests and single-process runs.
// Transactions are serialised: BeginTx waits until no other transaction is
// open and works on a private copy that Commit publishes.
type MemoryRepo struct {
	sem  chan struct{}
	mu   sync.RWMutex
	data *state
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		sem:  make(chan struct{}, 1),
		data: newState(),
	}
}

func (r *MemoryRepo) Close(ctx context.Context) {}

func (r *MemoryRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r.mu.RLock()
	work := r.data.clone()
	r.mu.RUnlock()
	return &memoryTx{repo: r, work: work}, nil
}

func (r *MemoryRepo) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.data.users[id]
	if !ok {
		return nil, domain.Missing("user", id)
	}
	cu := *u
	return &cu, nil
}

func (r *MemoryRepo) GetListing(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.data.listings[id]
	if !ok {
		return nil, domain.Missing("listing", id)
	}
	return l.Clone(), nil
}

func (r *MemoryRepo) GetOffer(ctx context.Context, id uuid.UUID) (*domain.Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.data.offers[id]
	if !ok {
		return nil, domain.Missing("offer", id)
	}
	return o.Clone(), nil
}

func (r *MemoryRepo) GetTrade(ctx context.Context, id uuid.UUID) (*domain.TradeProposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.data.trades[id]
	if !ok {
		return nil, domain.Missing("trade", id)
	}
	return t.Clone(), nil
}

func (r *MemoryRepo) ListBids(ctx context.Context, listingID uuid.UUID) ([]*domain.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyBids(r.data.bids[listingID]), nil
}

// ListTransactions returns the newest transactions touching userID first.
func (r *MemoryRepo) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*domain.Transaction
	for i := len(r.data.txns) - 1; i >= 0; i-- {
		t := r.data.txns[i]
		if t.FromUser == userID || (t.ToUser != nil && *t.ToUser == userID) {
			ct := *t
			res = append(res, &ct)
			if limit > 0 && len(res) == limit {
				break
			}
		}
	}
	return res, nil
}

func (r *MemoryRepo) ListExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found []*domain.Listing
	for _, l := range r.data.listings {
		if l.InActiveAuction() && !now.Before(l.Auction.EndTime) {
			found = append(found, l)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Auction.EndTime.Before(found[j].Auction.EndTime) })
	return limitIDs(len(found), limit, func(i int) uuid.UUID { return found[i].ID }), nil
}

func (r *MemoryRepo) ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found []*domain.Offer
	for _, o := range r.data.offers {
		if o.Open() && o.ExpiredAt(now) {
			found = append(found, o)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ExpiresAt.Before(found[j].ExpiresAt) })
	return limitIDs(len(found), limit, func(i int) uuid.UUID { return found[i].ID }), nil
}

func limitIDs(n, limit int, at func(int) uuid.UUID) []uuid.UUID {
	if limit > 0 && n > limit {
		n = limit
	}
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, at(i))
	}
	return ids
}

func copyBids(bs []*domain.Bid) []*domain.Bid {
	res := make([]*domain.Bid, 0, len(bs))
	for _, b := range bs {
		cb := *b
		res = append(res, &cb)
	}
	return res
}

type memoryTx struct {
	repo *MemoryRepo
	work *state
	done bool
}

func (t *memoryTx) finish() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	<-t.repo.sem
	return nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.repo.mu.Lock()
	t.repo.data = t.work
	t.repo.mu.Unlock()
	return t.finish()
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	return t.finish()
}

func (t *memoryTx) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, ok := t.work.users[id]
	if !ok {
		return nil, domain.Missing("user", id)
	}
	cu := *u
	return &cu, nil
}

func (t *memoryTx) GetUserForUpdate(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return t.GetUser(ctx, id)
}

func (t *memoryTx) InsertUser(ctx context.Context, u *domain.User) error {
	if _, ok := t.work.users[u.ID]; ok {
		return domain.Conflict("user %s already exists", u.ID)
	}
	cu := *u
	t.work.users[u.ID] = &cu
	return nil
}

func (t *memoryTx) SetBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	u, ok := t.work.users[userID]
	if !ok {
		return domain.Missing("user", userID)
	}
	if balance.IsNegative() {
		return domain.ErrInsufficientFunds
	}
	u.Balance = balance
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	ct := *txn
	t.work.txns = append(t.work.txns, &ct)
	return nil
}

func (t *memoryTx) GetListingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	l, ok := t.work.listings[id]
	if !ok {
		return nil, domain.Missing("listing", id)
	}
	return l.Clone(), nil
}

func (t *memoryTx) InsertListing(ctx context.Context, l *domain.Listing) error {
	if _, ok := t.work.listings[l.ID]; ok {
		return domain.Conflict("listing %s already exists", l.ID)
	}
	t.work.listings[l.ID] = l.Clone()
	return nil
}

func (t *memoryTx) UpdateListing(ctx context.Context, l *domain.Listing) error {
	cur, ok := t.work.listings[l.ID]
	if !ok {
		return domain.Missing("listing", l.ID)
	}
	if cur.Version != l.Version {
		return port.ErrTxConflict
	}
	l.Version++
	t.work.listings[l.ID] = l.Clone()
	return nil
}

func (t *memoryTx) InsertBid(ctx context.Context, b *domain.Bid) error {
	cb := *b
	t.work.bids[b.ListingID] = append(t.work.bids[b.ListingID], &cb)
	return nil
}

func (t *memoryTx) ClearWinningBids(ctx context.Context, listingID uuid.UUID) error {
	for _, b := range t.work.bids[listingID] {
		b.Winning = false
	}
	return nil
}

func (t *memoryTx) GetWinningBid(ctx context.Context, listingID uuid.UUID) (*domain.Bid, error) {
	for _, b := range t.work.bids[listingID] {
		if b.Winning {
			cb := *b
			return &cb, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) ListBids(ctx context.Context, listingID uuid.UUID) ([]*domain.Bid, error) {
	return copyBids(t.work.bids[listingID]), nil
}

func (t *memoryTx) InsertOffer(ctx context.Context, o *domain.Offer) error {
	if _, ok := t.work.offers[o.ID]; ok {
		return domain.Conflict("offer %s already exists", o.ID)
	}
	t.work.offers[o.ID] = o.Clone()
	return nil
}

func (t *memoryTx) GetOfferForUpdate(ctx context.Context, id uuid.UUID) (*domain.Offer, error) {
	o, ok := t.work.offers[id]
	if !ok {
		return nil, domain.Missing("offer", id)
	}
	return o.Clone(), nil
}

func (t *memoryTx) UpdateOffer(ctx context.Context, o *domain.Offer) error {
	if _, ok := t.work.offers[o.ID]; !ok {
		return domain.Missing("offer", o.ID)
	}
	t.work.offers[o.ID] = o.Clone()
	return nil
}

func (t *memoryTx) FindOpenOffer(ctx context.Context, listingID, buyerID uuid.UUID) (*domain.Offer, error) {
	for _, o := range t.work.offers {
		if o.ListingID == listingID && o.BuyerID == buyerID && o.Open() {
			return o.Clone(), nil
		}
	}
	return nil, nil
}

func (t *memoryTx) ListOpenOffers(ctx context.Context, listingID uuid.UUID) ([]*domain.Offer, error) {
	var res []*domain.Offer
	for _, o := range t.work.offers {
		if o.ListingID == listingID && o.Open() {
			res = append(res, o.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (t *memoryTx) InsertTrade(ctx context.Context, tr *domain.TradeProposal) error {
	if _, ok := t.work.trades[tr.ID]; ok {
		return domain.Conflict("trade %s already exists", tr.ID)
	}
	t.work.trades[tr.ID] = tr.Clone()
	return nil
}

func (t *memoryTx) GetTradeForUpdate(ctx context.Context, id uuid.UUID) (*domain.TradeProposal, error) {
	tr, ok := t.work.trades[id]
	if !ok {
		return nil, domain.Missing("trade", id)
	}
	return tr.Clone(), nil
}

func (t *memoryTx) UpdateTrade(ctx context.Context, tr *domain.TradeProposal) error {
	if _, ok := t.work.trades[tr.ID]; !ok {
		return domain.Missing("trade", tr.ID)
	}
	t.work.trades[tr.ID] = tr.Clone()
	return nil
}
