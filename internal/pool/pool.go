// Package pool custodies per-asset funds for the coverage pool and is the
// only component that moves money out. Every mutating operation runs under
// the pool mutex, including the external settlement call, so a reentrant
// caller can never observe or apply a partial withdrawal.
package pool

import (
	"context"
	"sync"

	"coverpool/internal/audit"
	"coverpool/internal/domain/claims"
	"coverpool/internal/infra/settlement"
)

type assetAccount struct {
	balance   int64
	deposited int64
	paid      int64
}

type Pool struct {
	mu          sync.Mutex
	owner       string
	withdrawers map[string]bool
	accounts    map[claims.Asset]*assetAccount
	settle      settlement.Client
	log         *audit.Log
}

func New(owner string, settle settlement.Client, log *audit.Log) *Pool {
	return &Pool{
		owner:       owner,
		withdrawers: make(map[string]bool),
		accounts:    make(map[claims.Asset]*assetAccount),
		settle:      settle,
		log:         log,
	}
}

// AuthorizeWithdrawer adds caller-gated withdraw access. Owner only.
func (p *Pool) AuthorizeWithdrawer(caller, withdrawer string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return claims.ErrUnauthorized
	}
	if withdrawer == "" {
		return claims.ErrInvalidArgument
	}
	p.withdrawers[withdrawer] = true
	return nil
}

func (p *Pool) RevokeWithdrawer(caller, withdrawer string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return claims.ErrUnauthorized
	}
	delete(p.withdrawers, withdrawer)
	return nil
}

func (p *Pool) Deposit(ctx context.Context, asset claims.Asset, amount int64, from string) error {
	if asset == "" || amount <= 0 {
		return claims.ErrInvalidArgument
	}
	p.mu.Lock()
	acct := p.account(asset)
	acct.balance += amount
	acct.deposited += amount
	p.mu.Unlock()

	p.log.Append(ctx, claims.Event{
		Type:       claims.EventPoolDeposit,
		ActorType:  "depositor",
		ActorID:    from,
		EntityType: "pool",
		EntityID:   string(asset),
		Payload:    map[string]any{"amount": amount, "from": from},
	})
	return nil
}

// Withdraw pays amount of asset to recipient on behalf of claimID. Only an
// authorized withdrawer may call it. The balance is debited before the
// settlement call and credited back if the transfer fails, all under the
// pool lock.
func (p *Pool) Withdraw(ctx context.Context, caller string, asset claims.Asset, amount int64, to, claimID string) error {
	if asset == "" || amount <= 0 || to == "" {
		return claims.ErrInvalidArgument
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.withdrawers[caller] {
		return claims.ErrUnauthorized
	}
	acct := p.account(asset)
	if acct.balance < amount {
		return claims.ErrInsufficientLiquidity
	}

	acct.balance -= amount
	resp, err := p.settle.Disburse(ctx, settlement.DisburseRequest{
		To:       to,
		Asset:    asset,
		Amount:   amount,
		ClaimRef: claimID,
	})
	if err != nil {
		acct.balance += amount
		return err
	}
	acct.paid += amount

	p.log.Append(ctx, claims.Event{
		Type:       claims.EventPoolWithdrawal,
		ActorType:  "withdrawer",
		ActorID:    caller,
		EntityType: "pool",
		EntityID:   string(asset),
		Payload: map[string]any{
			"amount":       amount,
			"to":           to,
			"claim_id":     claimID,
			"transfer_ref": resp.TransferRef,
		},
	})
	return nil
}

// EmergencyWithdraw bypasses claim linkage. Owner-only escape hatch for
// migration scenarios.
func (p *Pool) EmergencyWithdraw(ctx context.Context, caller string, asset claims.Asset, amount int64, to string) error {
	if asset == "" || amount <= 0 || to == "" {
		return claims.ErrInvalidArgument
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return claims.ErrUnauthorized
	}
	acct := p.account(asset)
	if acct.balance < amount {
		return claims.ErrInsufficientLiquidity
	}

	acct.balance -= amount
	resp, err := p.settle.Disburse(ctx, settlement.DisburseRequest{
		To:     to,
		Asset:  asset,
		Amount: amount,
	})
	if err != nil {
		acct.balance += amount
		return err
	}
	acct.paid += amount

	p.log.Append(ctx, claims.Event{
		Type:       claims.EventPoolEmergency,
		ActorType:  "owner",
		ActorID:    caller,
		EntityType: "pool",
		EntityID:   string(asset),
		Payload: map[string]any{
			"amount":       amount,
			"to":           to,
			"transfer_ref": resp.TransferRef,
		},
	})
	return nil
}

func (p *Pool) HasSufficientLiquidity(asset claims.Asset, amount int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct, ok := p.accounts[asset]
	return ok && acct.balance >= amount
}

func (p *Pool) Balance(asset claims.Asset) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct, ok := p.accounts[asset]
	if !ok {
		return 0
	}
	return acct.balance
}

// Balances returns a snapshot of current balances for every asset the
// pool has seen.
func (p *Pool) Balances() map[claims.Asset]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[claims.Asset]int64, len(p.accounts))
	for asset, acct := range p.accounts {
		out[asset] = acct.balance
	}
	return out
}

func (p *Pool) CumulativeDeposited(asset claims.Asset) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct, ok := p.accounts[asset]
	if !ok {
		return 0
	}
	return acct.deposited
}

func (p *Pool) CumulativePaid(asset claims.Asset) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct, ok := p.accounts[asset]
	if !ok {
		return 0
	}
	return acct.paid
}

// Utilization returns cumulative paid over cumulative deposited across all
// assets. Zero when nothing has been deposited.
func (p *Pool) Utilization() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var paid, deposited int64
	for _, acct := range p.accounts {
		paid += acct.paid
		deposited += acct.deposited
	}
	if deposited == 0 {
		return 0
	}
	return float64(paid) / float64(deposited)
}

// account must be called with p.mu held.
func (p *Pool) account(asset claims.Asset) *assetAccount {
	acct, ok := p.accounts[asset]
	if !ok {
		acct = &assetAccount{}
		p.accounts[asset] = acct
	}
	return acct
}
