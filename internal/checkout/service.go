package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stockmaster/backend/internal/cache"
	"stockmaster/backend/internal/domain"
	"stockmaster/backend/internal/sales"
	"stockmaster/backend/internal/store"
	"stockmaster/backend/internal/xid"
)

const (
	DefaultIdleTTL = 30 * time.Minute
	lockTTL        = time.Minute
)

// Service keeps checkout sessions in a cache so any API instance can serve
// the next step. A session expires after the idle TTL without changes.
type Service struct {
	cache     cache.Cache
	committer Committer
	idleTTL   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Service)

func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(c cache.Cache, committer Committer, opts ...Option) *Service {
	s := &Service{
		cache:     c,
		committer: committer,
		idleTTL:   DefaultIdleTTL,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Open(ctx context.Context, cart *sales.Cart) (*Machine, error) {
	m, err := NewMachine(xid.New("chk"), cart, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Machine, error) {
	raw, err := s.cache.Get(ctx, sessionKey(id))
	if errors.Is(err, cache.ErrMiss) {
		return nil, fmt.Errorf("checkout %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkout %s: %w", id, err)
	}
	var m Machine
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode checkout %s: %w", id, err)
	}
	if m.Cart == nil {
		m.Cart = sales.NewCart()
	}
	return &m, nil
}

func (s *Service) SubmitCustomer(ctx context.Context, id string, customer domain.CustomerInfo) (*Machine, error) {
	return s.update(ctx, id, func(m *Machine) error { return m.SubmitCustomer(customer) })
}

func (s *Service) Back(ctx context.Context, id string) (*Machine, error) {
	return s.update(ctx, id, (*Machine).Back)
}

func (s *Service) SelectMethod(ctx context.Context, id string, method domain.PaymentMethod) (*Machine, error) {
	return s.update(ctx, id, func(m *Machine) error { return m.SelectMethod(method) })
}

func (s *Service) SetPayment(ctx context.Context, id string, input domain.PaymentInputRequest) (*Machine, error) {
	return s.update(ctx, id, func(m *Machine) error { return m.SetPaymentInput(input) })
}

func (s *Service) Cancel(ctx context.Context, id string) (*Machine, error) {
	return s.update(ctx, id, (*Machine).Cancel)
}

// Confirm commits the session's cart. While it runs every other step on the
// session gets ErrSessionBusy; a committed session answers
// ErrInvalidTransition.
func (s *Service) Confirm(ctx context.Context, id string) (*Machine, sales.CommitResult, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, sales.CommitResult{}, err
	}
	pinned := false
	defer func() {
		if !pinned {
			unlock()
		}
	}()

	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, sales.CommitResult{}, err
	}
	result, err := m.Confirm(ctx, s.committer)
	if err != nil {
		return nil, sales.CommitResult{}, err
	}
	if err := s.save(context.WithoutCancel(ctx), m); err != nil {
		// The sale is recorded but the stored session still reads as
		// uncommitted. The lock stays until the session itself expires so a
		// retry cannot commit the cart again.
		pinned = s.pin(context.WithoutCancel(ctx), id, result.Sale.ID)
		s.logger.Error("save committed checkout",
			zap.String("checkout_id", id),
			zap.String("sale_id", result.Sale.ID),
			zap.Bool("locked_until_expiry", pinned),
			zap.Error(err))
	}
	return m, result, nil
}

func (s *Service) update(ctx context.Context, id string, step func(*Machine) error) (*Machine, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := step(m); err != nil {
		return nil, err
	}
	if err := s.save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// lock claims the session for a single step. Steps on one session never
// overlap, across instances too.
func (s *Service) lock(ctx context.Context, id string) (func(), error) {
	key := lockKey(id)
	won, err := s.cache.Claim(ctx, key, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock checkout %s: %w", id, err)
	}
	if !won {
		return nil, ErrSessionBusy
	}
	return func() {
		if err := s.cache.Delete(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("release checkout lock", zap.String("checkout_id", id), zap.Error(err))
		}
	}, nil
}

// pin holds the session lock for the idle TTL, naming the recorded sale.
func (s *Service) pin(ctx context.Context, id, saleID string) bool {
	if err := s.cache.Set(ctx, lockKey(id), []byte(saleID), s.idleTTL); err != nil {
		s.logger.Error("pin checkout lock", zap.String("checkout_id", id), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) save(ctx context.Context, m *Machine) error {
	m.UpdatedAt = s.now()
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode checkout %s: %w", m.ID, err)
	}
	if err := s.cache.Set(ctx, sessionKey(m.ID), raw, s.idleTTL); err != nil {
		return fmt.Errorf("save checkout %s: %w", m.ID, err)
	}
	return nil
}

func sessionKey(id string) string {
	return "checkout:" + id
}

func lockKey(id string) string {
	return sessionKey(id) + ":lock"
}
