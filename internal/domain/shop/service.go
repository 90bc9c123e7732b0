package shop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/pouchrx/pouchrx/internal/domain/allowance"
	"github.com/pouchrx/pouchrx/internal/domain/prescription"
	"github.com/pouchrx/pouchrx/internal/platform/auth"
	"github.com/pouchrx/pouchrx/internal/platform/clock"
	"github.com/pouchrx/pouchrx/internal/platform/db"
)

var ErrMissingSession = errors.New("missing cart session")

// errRefused aborts the checkout transaction after a refusal was recorded.
var errRefused = errors.New("checkout refused")

// Prescriptions is the view of the prescription service the shop gates on.
type Prescriptions interface {
	Gating(ctx context.Context, ownerID uuid.UUID) (prescription.Gating, error)
}

// Decision is a refusal or permission. Refusals are ordinary results, not
// errors: the caller shows Reason to the patient.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func refuse(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

type CartResult struct {
	Cart     Cart     `json:"cart"`
	Decision Decision `json:"decision"`
}

type CheckoutRequest struct {
	ShippingMethod  string   `json:"shipping_method"`
	ShippingAddress *Address `json:"shipping_address"`
}

type CheckoutResult struct {
	Order    *Order   `json:"order,omitempty"`
	Decision Decision `json:"decision"`
}

type Service struct {
	store    CartStore
	orders   OrderRepository
	rx       Prescriptions
	tx       db.Transactor
	shipping ShippingPolicy
	clock    clock.Clock
	logger   zerolog.Logger
	loads    singleflight.Group
}

func NewService(store CartStore, orders OrderRepository, rx Prescriptions, tx db.Transactor,
	shipping ShippingPolicy, clk clock.Clock, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NoopTransactor{}
	}
	return &Service{
		store:    store,
		orders:   orders,
		rx:       rx,
		tx:       tx,
		shipping: shipping,
		clock:    clk,
		logger:   logger.With().Str("component", "shop").Logger(),
	}
}

// loadLines reads and normalizes the session's cart, writing back the
// canonical form when anything had to be repaired. Concurrent reads of the
// same cart share one store round trip.
func (s *Service) loadLines(ctx context.Context, session string) ([]Line, error) {
	if session == "" {
		return nil, ErrMissingSession
	}
	key := cartKey(session)
	v, err, _ := s.loads.Do(key, func() (interface{}, error) {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load cart: %w", err)
		}
		lines, diags, repaired := ParseCart(data)
		for _, d := range diags {
			s.logger.Warn().
				Str("session", session).
				Str("variant_id", d.VariantID).
				Str("field", d.Field).
				Str("fallback", d.Fallback).
				Msg(d.Detail)
		}
		if repaired {
			if err := s.saveLines(ctx, session, lines); err != nil {
				s.logger.Warn().Err(err).Str("session", session).Msg("cart repair not written back")
			}
		}
		return lines, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]Line)
	return append([]Line(nil), shared...), nil
}

func (s *Service) saveLines(ctx context.Context, session string, lines []Line) error {
	data, err := encodeCart(lines)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	return s.store.Put(ctx, cartKey(session), data)
}

func (s *Service) evaluate(ctx context.Context, ownerID uuid.UUID, cartQty int) (allowance.Snapshot, error) {
	g, err := s.rx.Gating(ctx, ownerID)
	if err != nil {
		return allowance.Snapshot{}, fmt.Errorf("load prescriptions: %w", err)
	}
	ordered, err := s.orders.ConsumedQuantity(ctx, ownerID)
	if err != nil {
		return allowance.Snapshot{}, err
	}
	return allowance.Evaluate(g.AllowanceInput(s.clock.Now(), ordered, cartQty)), nil
}

func gateReason(snap allowance.Snapshot) (Decision, bool) {
	switch snap.State {
	case allowance.StateActive, allowance.StateExhausted:
		return allow(), true
	case allowance.StatePending:
		return refuse("no active prescription: upload awaiting review"), false
	case allowance.StateExpired:
		return refuse("no active prescription: prescription expired"), false
	default:
		return refuse("no active prescription"), false
	}
}

// admit decides whether extra more cans of v fit the snapshot.
func admit(snap allowance.Snapshot, v Variant, extra int) Decision {
	if d, ok := gateReason(snap); !ok {
		return d
	}
	if !allowance.IsStrengthAllowed(v.StrengthMg, snap.MaxStrengthMg) {
		return refuse("strength %d mg exceeds prescribed maximum of %d mg", v.StrengthMg, snap.MaxStrengthMg)
	}
	if !allowance.Permits(extra, snap.RemainingForCart) {
		return refuse("allowance exceeded: %d remaining", snap.RemainingForCart)
	}
	return allow()
}

func lineFor(v Variant) Line {
	return Line{ProductID: v.ProductID, VariantID: v.VariantID, StrengthMg: v.StrengthMg, UnitPriceMinor: v.UnitPriceMinor}
}

// priceLines rebuilds each line from the catalog. Stored prices and
// strengths only render the cart; an order is always priced and gated on
// catalog values.
func priceLines(lines []Line) ([]Line, Decision) {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		v, ok := LookupVariant(l.VariantID)
		if !ok {
			return nil, refuse("%s is no longer available", l.VariantID)
		}
		priced := lineFor(v)
		priced.Quantity = l.Quantity
		out = append(out, priced)
	}
	return out, allow()
}

func (s *Service) Cart(ctx context.Context, session string) (Cart, error) {
	lines, err := s.loadLines(ctx, session)
	if err != nil {
		return Cart{}, err
	}
	return NewCart(lines), nil
}

// Add puts qty more cans of variantID in the cart when the owner's
// prescription allows it. A refusal leaves the cart unchanged.
func (s *Service) Add(ctx context.Context, session, variantID string, qty int) (CartResult, error) {
	owner, err := auth.RequireUser(ctx)
	if err != nil {
		return CartResult{}, err
	}
	if qty <= 0 {
		return CartResult{}, ErrInvalidQuantity
	}
	v, ok := LookupVariant(variantID)
	if !ok {
		return CartResult{}, fmt.Errorf("%w: %s", ErrUnknownVariant, variantID)
	}
	lines, err := s.loadLines(ctx, session)
	if err != nil {
		return CartResult{}, err
	}
	cart := NewCart(lines)
	snap, err := s.evaluate(ctx, owner, cart.TotalQuantity)
	if err != nil {
		return CartResult{}, err
	}
	if d := admit(snap, v, qty); !d.Allowed {
		return CartResult{Cart: cart, Decision: d}, nil
	}
	lines = setQuantity(lines, lineFor(v), cart.QuantityOf(variantID)+qty)
	if err := s.saveLines(ctx, session, lines); err != nil {
		return CartResult{}, err
	}
	return CartResult{Cart: NewCart(lines), Decision: allow()}, nil
}

// UpdateQuantity sets the variant's quantity. Zero or less removes the line.
// Only increases are checked against the allowance.
func (s *Service) UpdateQuantity(ctx context.Context, session, variantID string, qty int) (CartResult, error) {
	owner, err := auth.RequireUser(ctx)
	if err != nil {
		return CartResult{}, err
	}
	lines, err := s.loadLines(ctx, session)
	if err != nil {
		return CartResult{}, err
	}
	cart := NewCart(lines)
	current := cart.QuantityOf(variantID)

	add := Line{VariantID: variantID}
	if qty > current {
		v, ok := LookupVariant(variantID)
		if !ok {
			return CartResult{}, fmt.Errorf("%w: %s", ErrUnknownVariant, variantID)
		}
		snap, err := s.evaluate(ctx, owner, cart.TotalQuantity)
		if err != nil {
			return CartResult{}, err
		}
		if d := admit(snap, v, qty-current); !d.Allowed {
			return CartResult{Cart: cart, Decision: d}, nil
		}
		add = lineFor(v)
	}

	lines = setQuantity(lines, add, qty)
	if err := s.saveLines(ctx, session, lines); err != nil {
		return CartResult{}, err
	}
	return CartResult{Cart: NewCart(lines), Decision: allow()}, nil
}

func (s *Service) Remove(ctx context.Context, session, variantID string) (Cart, error) {
	lines, err := s.loadLines(ctx, session)
	if err != nil {
		return Cart{}, err
	}
	lines = setQuantity(lines, Line{VariantID: variantID}, 0)
	if err := s.saveLines(ctx, session, lines); err != nil {
		return Cart{}, err
	}
	return NewCart(lines), nil
}

func (s *Service) Clear(ctx context.Context, session string) (Cart, error) {
	if session == "" {
		return Cart{}, ErrMissingSession
	}
	if err := s.store.Delete(ctx, cartKey(session)); err != nil {
		return Cart{}, err
	}
	return NewCart(nil), nil
}

// Allowance reports the shop gating for the caller. Anonymous callers are
// always locked.
func (s *Service) Allowance(ctx context.Context, session string) (allowance.Snapshot, error) {
	cart, err := s.Cart(ctx, session)
	if err != nil {
		return allowance.Snapshot{}, err
	}
	owner, ok := auth.OptionalUser(ctx)
	if !ok {
		return allowance.Evaluate(allowance.Input{CartQty: cart.TotalQuantity, Now: s.clock.Now()}), nil
	}
	return s.evaluate(ctx, owner, cart.TotalQuantity)
}

func (s *Service) Quote(ctx context.Context, session string) ([]ShippingOption, error) {
	cart, err := s.Cart(ctx, session)
	if err != nil {
		return nil, err
	}
	return s.shipping.Quote(cart.TotalQuantity), nil
}

// ShippingAddress returns the caller's saved draft, or nil.
func (s *Service) ShippingAddress(ctx context.Context) (*Address, error) {
	owner, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Get(ctx, draftKey(owner.String()))
	if err != nil || data == nil {
		return nil, err
	}
	var a Address
	if err := json.Unmarshal(data, &a); err != nil {
		s.logger.Warn().Err(err).Str("owner_id", owner.String()).Msg("discarding unreadable shipping draft")
		_ = s.store.Delete(ctx, draftKey(owner.String()))
		return nil, nil
	}
	return &a, nil
}

func (s *Service) SaveShippingAddress(ctx context.Context, a Address) (*Address, error) {
	owner, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode shipping draft: %w", err)
	}
	if err := s.store.Put(ctx, draftKey(owner.String()), data); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Service) ClearShippingAddress(ctx context.Context) error {
	owner, err := auth.RequireUser(ctx)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, draftKey(owner.String()))
}

// Checkout turns the cart into an order. The allowance is checked again
// against orders read inside the transaction, and the cart is cleared only
// once the order is committed.
func (s *Service) Checkout(ctx context.Context, session string, req CheckoutRequest) (CheckoutResult, error) {
	owner, err := auth.RequireUser(ctx)
	if err != nil {
		return CheckoutResult{}, err
	}
	lines, err := s.loadLines(ctx, session)
	if err != nil {
		return CheckoutResult{}, err
	}
	if NewCart(lines).Empty() {
		return CheckoutResult{Decision: refuse("cart is empty")}, nil
	}
	lines, d := priceLines(lines)
	if !d.Allowed {
		return CheckoutResult{Decision: d}, nil
	}
	cart := NewCart(lines)

	addr := req.ShippingAddress
	if addr == nil {
		if addr, err = s.ShippingAddress(ctx); err != nil {
			return CheckoutResult{}, err
		}
	}
	if addr == nil {
		return CheckoutResult{Decision: refuse("shipping address required")}, nil
	}
	if err := addr.Validate(); err != nil {
		return CheckoutResult{Decision: refuse("%s", err.Error())}, nil
	}

	snap, err := s.evaluate(ctx, owner, cart.TotalQuantity)
	if err != nil {
		return CheckoutResult{}, err
	}
	if d, ok := gateReason(snap); !ok {
		return CheckoutResult{Decision: d}, nil
	}
	for _, l := range lines {
		if !allowance.IsStrengthAllowed(l.StrengthMg, snap.MaxStrengthMg) {
			return CheckoutResult{Decision: refuse("%s is %d mg, above prescribed maximum of %d mg",
				l.VariantID, l.StrengthMg, snap.MaxStrengthMg)}, nil
		}
	}

	method := NormalizeMethod(req.ShippingMethod, s.logger)
	shippingCost := s.shipping.Cost(method, cart.TotalQuantity)
	now := s.clock.Now()
	order := &Order{
		ID:                uuid.New(),
		OwnerID:           owner,
		LineItems:         lines,
		TotalQuantity:     cart.TotalQuantity,
		SubtotalMinor:     cart.SubtotalMinor,
		ShippingMethod:    method,
		ShippingCostMinor: shippingCost,
		TotalMinor:        cart.SubtotalMinor + shippingCost,
		ShippingAddress:   *addr,
		Status:            OrderProcessing,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	order.Total = FormatMinor(order.TotalMinor)

	var refusal Decision
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.orders.LockOwner(ctx, owner); err != nil {
			return err
		}
		ordered, err := s.orders.ConsumedQuantity(ctx, owner)
		if err != nil {
			return err
		}
		remaining := allowance.RemainingAtCheckout(ordered, snap.Cap)
		if !allowance.Permits(cart.TotalQuantity, remaining) {
			refusal = refuse("allowance exceeded: %d in cart, %d remaining", cart.TotalQuantity, remaining)
			return errRefused
		}
		return s.orders.Create(ctx, order)
	})
	if errors.Is(err, errRefused) {
		return CheckoutResult{Decision: refusal}, nil
	}
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("place order: %w", err)
	}

	if err := s.store.Delete(ctx, cartKey(session)); err != nil {
		s.logger.Warn().Err(err).Str("order_id", order.ID.String()).Msg("order placed but cart not cleared")
	}
	s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("owner_id", owner.String()).
		Int("quantity", order.TotalQuantity).
		Int64("total_minor", order.TotalMinor).
		Msg("order placed")
	return CheckoutResult{Order: order, Decision: allow()}, nil
}

func (s *Service) ListOrders(ctx context.Context, limit, offset int) ([]*Order, int, error) {
	owner, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, 0, err
	}
	return s.orders.ListByOwner(ctx, owner, limit, offset)
}

// GetOrder returns an order to its owner or an admin.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	caller, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != caller && !auth.HasRole(ctx, auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *Service) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status OrderStatus) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, status)
	}
	now := s.clock.Now()
	if err := s.orders.UpdateStatus(ctx, id, status, now); err != nil {
		return nil, err
	}
	o.Status = status
	o.UpdatedAt = now
	return o, nil
}

// SignOut drops the session's cart and, for a signed-in caller, the
// shipping draft.
func (s *Service) SignOut(ctx context.Context, session string) error {
	var keys []string
	if session != "" {
		keys = append(keys, cartKey(session))
	}
	if owner, ok := auth.OptionalUser(ctx); ok {
		keys = append(keys, draftKey(owner.String()))
	}
	return s.store.Delete(ctx, keys...)
}
