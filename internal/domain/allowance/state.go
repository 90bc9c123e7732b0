package allowance

import "time"

type State string

const (
	StateLocked    State = "locked"
	StatePending   State = "pending"
	StateActive    State = "active"
	StateExhausted State = "exhausted"
	StateExpired   State = "expired"
)

// Grant is the part of a prescription the engine reads.
type Grant struct {
	MaxStrengthMg int
	TotalUnits    int
	ExpiresAt     *time.Time
}

type Input struct {
	// Active is the authoritative prescription, nil when none is active.
	Active *Grant
	// HasPending is set when an upload awaits review.
	HasPending bool
	// HasExpired is set when the patient's latest prescription has lapsed.
	HasExpired bool
	OrderedQty int
	CartQty    int
	Now        time.Time
}

type Snapshot struct {
	State               State      `json:"state"`
	MaxStrengthMg       int        `json:"max_strength_mg"`
	Cap                 int        `json:"cap"`
	OrderedQty          int        `json:"ordered_qty"`
	CartQty             int        `json:"cart_qty"`
	RemainingForCart    int        `json:"remaining_for_cart"`
	RemainingAtCheckout int        `json:"remaining_at_checkout"`
	PercentUsed         int        `json:"percent_used"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
}

// Evaluate derives the shop-gating view. It stores nothing; callers
// recompute it whenever prescriptions, orders or the cart change.
//
// Precedence: a usable active prescription wins, then a pending upload,
// then a lapse, else the shop is locked. Exhausted means the lifetime
// allowance is spent by placed orders; a full cart alone does not exhaust.
func Evaluate(in Input) Snapshot {
	s := Snapshot{
		State:      StateLocked,
		OrderedQty: nonNeg(in.OrderedQty),
		CartQty:    nonNeg(in.CartQty),
	}

	if g := in.Active; g != nil && !IsExpired(g.ExpiresAt, in.Now) {
		s.MaxStrengthMg = g.MaxStrengthMg
		s.Cap = nonNeg(g.TotalUnits)
		s.ExpiresAt = g.ExpiresAt
		s.RemainingForCart = RemainingForCart(in.OrderedQty, in.CartQty, s.Cap)
		s.RemainingAtCheckout = RemainingAtCheckout(in.OrderedQty, s.Cap)
		s.PercentUsed = PercentUsed(in.OrderedQty, in.CartQty, s.Cap)
		s.State = StateActive
		if s.RemainingAtCheckout == 0 {
			s.State = StateExhausted
		}
		return s
	}

	switch {
	case in.HasPending:
		s.State = StatePending
	case in.HasExpired || in.Active != nil:
		s.State = StateExpired
		if in.Active != nil {
			s.ExpiresAt = in.Active.ExpiresAt
		}
	}
	return s
}

// CanShop reports whether the state lets a patient add to the cart.
func (s Snapshot) CanShop() bool {
	return s.State == StateActive && s.RemainingForCart > 0
}
