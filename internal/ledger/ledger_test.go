package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"coverpool/internal/audit"
	"coverpool/internal/domain/claims"
	"coverpool/internal/infra/settlement"
	"coverpool/internal/pool"
	"coverpool/internal/quorum"
	"coverpool/internal/verify"
)

const poolOwner = "pool-owner"

type fixture struct {
	ledger   *Ledger
	verifier *verify.Service
	quorum   *quorum.Quorum
	pool     *pool.Pool
	settle   *settlement.FakeClient
	log      *audit.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := audit.NewLog()
	settle := settlement.NewFakeClient()

	p := pool.New(poolOwner, settle, log)
	if err := p.AuthorizeWithdrawer(poolOwner, WithdrawerIdentity); err != nil {
		t.Fatalf("authorize withdrawer: %v", err)
	}
	if err := p.Deposit(context.Background(), "USDC", 100_000, "lp-1"); err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	verifier := verify.New(time.Hour, log)
	q, err := quorum.New([]string{"sig-a", "sig-b", "sig-c"}, 2, log)
	if err != nil {
		t.Fatalf("new quorum: %v", err)
	}

	policies := claims.StaticPolicySource{
		"policy-1": {Ref: "policy-1", Claimant: "alice", Asset: "USDC", Coverage: 50_000, Active: true},
		"policy-2": {Ref: "policy-2", Claimant: "bob", Asset: "USDC", Coverage: 5_000, Active: true},
		"inactive": {Ref: "inactive", Claimant: "alice", Asset: "USDC", Coverage: 50_000, Active: false},
	}

	l := New(Deps{
		Policies:    policies,
		Verifier:    verifier,
		Quorum:      q,
		Pool:        p,
		Escalation:  FixedThreshold{Threshold: 10_000},
		Authorities: []string{"authority-1"},
		Operators:   []string{"op-1"},
		Log:         log,
	})
	verifier.SetHandler(l)
	q.SetReleaser(l)

	return &fixture{ledger: l, verifier: verifier, quorum: q, pool: p, settle: settle, log: log}
}

func (f *fixture) submit(t *testing.T, claimant, policyRef string, amount int64) claims.Claim {
	t.Helper()
	claimID, err := f.ledger.Submit(context.Background(), SubmitInput{
		Claimant:    claimant,
		PolicyRef:   policyRef,
		Amount:      amount,
		EvidenceRef: "ipfs://evidence",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	c, err := f.ledger.GetClaim(claimID)
	if err != nil {
		t.Fatalf("get claim: %v", err)
	}
	return c
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		input   SubmitInput
		wantErr error
	}{
		{"empty evidence", SubmitInput{Claimant: "alice", PolicyRef: "policy-1", Amount: 100}, claims.ErrInvalidEvidence},
		{"zero amount", SubmitInput{Claimant: "alice", PolicyRef: "policy-1", Amount: 0, EvidenceRef: "e"}, claims.ErrInvalidArgument},
		{"unknown policy", SubmitInput{Claimant: "alice", PolicyRef: "nope", Amount: 100, EvidenceRef: "e"}, claims.ErrInvalidPolicy},
		{"inactive policy", SubmitInput{Claimant: "alice", PolicyRef: "inactive", Amount: 100, EvidenceRef: "e"}, claims.ErrInvalidPolicy},
		{"wrong claimant", SubmitInput{Claimant: "mallory", PolicyRef: "policy-1", Amount: 100, EvidenceRef: "e"}, claims.ErrInvalidPolicy},
		{"over coverage", SubmitInput{Claimant: "alice", PolicyRef: "policy-1", Amount: 50_001, EvidenceRef: "e"}, claims.ErrAmountExceedsCoverage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.ledger.Submit(ctx, tc.input); !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestLowValueClaimAutoPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.submit(t, "alice", "policy-1", 500)
	if c.Status != claims.StatusPending || c.RequiresEscalation {
		t.Fatalf("submitted claim = %+v", c)
	}

	if err := f.verifier.Respond(ctx, c.VerificationID, "authority-1", true); err != nil {
		t.Fatalf("respond: %v", err)
	}

	got, _ := f.ledger.GetClaim(c.ID)
	if got.Status != claims.StatusPaid {
		t.Fatalf("status = %s, want paid", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Fatal("resolved timestamp not set")
	}
	if got.ApprovalTxID != "" {
		t.Fatalf("low-value claim has approval tx %s", got.ApprovalTxID)
	}
	if len(f.settle.Disbursed()) != 1 {
		t.Fatalf("disbursements = %d, want 1", len(f.settle.Disbursed()))
	}
	if got := f.pool.Balance("USDC"); got != 99_500 {
		t.Fatalf("pool balance = %d, want 99500", got)
	}
}

func TestRejectedVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.submit(t, "alice", "policy-1", 500)
	if err := f.verifier.Respond(ctx, c.VerificationID, "authority-1", false); err != nil {
		t.Fatalf("respond: %v", err)
	}

	got, _ := f.ledger.GetClaim(c.ID)
	if got.Status != claims.StatusRejected {
		t.Fatalf("status = %s, want rejected", got.Status)
	}
	if len(f.settle.Disbursed()) != 0 {
		t.Fatal("rejected claim disbursed funds")
	}
}

func TestEscalatedClaimNeedsQuorum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.submit(t, "alice", "policy-1", 20_000)
	if !c.RequiresEscalation {
		t.Fatal("claim at threshold not flagged for escalation")
	}

	if err := f.verifier.Respond(ctx, c.VerificationID, "authority-1", true); err != nil {
		t.Fatalf("respond: %v", err)
	}
	got, _ := f.ledger.GetClaim(c.ID)
	if got.Status != claims.StatusInvestigating {
		t.Fatalf("status = %s, want investigating", got.Status)
	}
	if got.ApprovalTxID == "" {
		t.Fatal("escalated claim missing approval tx")
	}

	// Direct payout before quorum executes is refused.
	if err := f.ledger.Payout(ctx, c.ID); !errors.Is(err, claims.ErrUnauthorized) {
		t.Fatalf("premature payout err = %v, want ErrUnauthorized", err)
	}

	if err := f.quorum.Approve(ctx, got.ApprovalTxID, "sig-a"); err != nil {
		t.Fatalf("approve a: %v", err)
	}
	mid, _ := f.ledger.GetClaim(c.ID)
	if mid.Status != claims.StatusInvestigating {
		t.Fatalf("status after one approval = %s, want investigating", mid.Status)
	}

	if err := f.quorum.Approve(ctx, got.ApprovalTxID, "sig-b"); err != nil {
		t.Fatalf("approve b: %v", err)
	}
	final, _ := f.ledger.GetClaim(c.ID)
	if final.Status != claims.StatusPaid {
		t.Fatalf("status = %s, want paid", final.Status)
	}
	if got := f.pool.Balance("USDC"); got != 80_000 {
		t.Fatalf("pool balance = %d, want 80000", got)
	}
}

func TestVerificationTimeoutRejectsClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.verifier.SetClock(func() time.Time { return now })

	c := f.submit(t, "alice", "policy-1", 500)
	now = now.Add(2 * time.Hour)

	resolved, err := f.verifier.CheckTimeout(ctx, c.VerificationID)
	if err != nil || !resolved {
		t.Fatalf("timeout: resolved=%v err=%v", resolved, err)
	}
	got, _ := f.ledger.GetClaim(c.ID)
	if got.Status != claims.StatusRejected {
		t.Fatalf("status = %s, want rejected", got.Status)
	}
}

func TestInsufficientLiquidityKeepsClaimRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Drain the pool below the claim amount.
	if err := f.pool.EmergencyWithdraw(ctx, poolOwner, "USDC", 99_500, "treasury"); err != nil {
		t.Fatalf("drain pool: %v", err)
	}

	c := f.submit(t, "alice", "policy-1", 20_000)
	if err := f.verifier.Respond(ctx, c.VerificationID, "authority-1", true); err != nil {
		t.Fatalf("respond: %v", err)
	}
	got, _ := f.ledger.GetClaim(c.ID)

	if err := f.quorum.Approve(ctx, got.ApprovalTxID, "sig-a"); err != nil {
		t.Fatalf("approve a: %v", err)
	}
	err := f.quorum.Approve(ctx, got.ApprovalTxID, "sig-b")
	if !errors.Is(err, claims.ErrInsufficientLiquidity) {
		t.Fatalf("err = %v, want ErrInsufficientLiquidity", err)
	}

	// Approval consensus is final; the claim stays Investigating.
	tx, _ := f.quorum.Get(got.ApprovalTxID)
	if !tx.Executed {
		t.Fatal("approval not executed")
	}
	mid, _ := f.ledger.GetClaim(c.ID)
	if mid.Status != claims.StatusInvestigating {
		t.Fatalf("status = %s, want investigating", mid.Status)
	}

	// Top up and retry.
	if err := f.pool.Deposit(ctx, "USDC", 50_000, "lp-2"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.ledger.Payout(ctx, c.ID); err != nil {
		t.Fatalf("retry payout: %v", err)
	}
	final, _ := f.ledger.GetClaim(c.ID)
	if final.Status != claims.StatusPaid {
		t.Fatalf("status = %s, want paid", final.Status)
	}
}

func TestAutoPayoutShortfallKeepsResultAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Drain the pool below a low-value claim's amount.
	if err := f.pool.EmergencyWithdraw(ctx, poolOwner, "USDC", 99_900, "treasury"); err != nil {
		t.Fatalf("drain pool: %v", err)
	}

	c := f.submit(t, "alice", "policy-1", 500)
	// The accepted result stands even though the immediate payout cannot
	// settle; Respond must not surface the liquidity failure.
	if err := f.verifier.Respond(ctx, c.VerificationID, "authority-1", true); err != nil {
		t.Fatalf("respond: %v", err)
	}

	req, _ := f.verifier.Get(c.VerificationID)
	if req.Status != claims.VerificationFulfilled {
		t.Fatalf("verification status = %s, want fulfilled", req.Status)
	}
	got, _ := f.ledger.GetClaim(c.ID)
	if got.Status != claims.StatusInvestigating {
		t.Fatalf("claim status = %s, want investigating", got.Status)
	}

	var deferred bool
	for _, ev := range f.log.ListByEntity("claim", c.ID) {
		if ev.Type == claims.EventPayoutDeferred {
			deferred = true
		}
	}
	if !deferred {
		t.Fatal("no deferred-payout event recorded")
	}

	if err := f.pool.Deposit(ctx, "USDC", 1_000, "lp-2"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.ledger.Payout(ctx, c.ID); err != nil {
		t.Fatalf("retry payout: %v", err)
	}
	final, _ := f.ledger.GetClaim(c.ID)
	if final.Status != claims.StatusPaid {
		t.Fatalf("status = %s, want paid", final.Status)
	}
}

func TestManualOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unauthorized actor", func(t *testing.T) {
		c := f.submit(t, "alice", "policy-1", 500)
		if err := f.ledger.ManualOverride(ctx, c.ID, "approve", "mallory"); !errors.Is(err, claims.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("approve pending claim", func(t *testing.T) {
		c := f.submit(t, "alice", "policy-1", 500)
		if err := f.ledger.ManualOverride(ctx, c.ID, "approve", "op-1"); err != nil {
			t.Fatalf("override: %v", err)
		}
		got, _ := f.ledger.GetClaim(c.ID)
		if got.Status != claims.StatusPaid {
			t.Fatalf("status = %s, want paid", got.Status)
		}
	})

	t.Run("approve bypasses quorum", func(t *testing.T) {
		c := f.submit(t, "alice", "policy-1", 20_000)
		if err := f.verifier.Respond(ctx, c.VerificationID, "authority-1", true); err != nil {
			t.Fatalf("respond: %v", err)
		}
		if err := f.ledger.ManualOverride(ctx, c.ID, "approve", "op-1"); err != nil {
			t.Fatalf("override: %v", err)
		}
		got, _ := f.ledger.GetClaim(c.ID)
		if got.Status != claims.StatusPaid {
			t.Fatalf("status = %s, want paid", got.Status)
		}
	})

	t.Run("reject", func(t *testing.T) {
		c := f.submit(t, "alice", "policy-1", 500)
		if err := f.ledger.ManualOverride(ctx, c.ID, "reject", "op-1"); err != nil {
			t.Fatalf("override: %v", err)
		}
		got, _ := f.ledger.GetClaim(c.ID)
		if got.Status != claims.StatusRejected {
			t.Fatalf("status = %s, want rejected", got.Status)
		}
	})

	t.Run("terminal claim", func(t *testing.T) {
		c := f.submit(t, "alice", "policy-1", 500)
		if err := f.ledger.ManualOverride(ctx, c.ID, "reject", "op-1"); err != nil {
			t.Fatalf("override: %v", err)
		}
		if err := f.ledger.ManualOverride(ctx, c.ID, "approve", "op-1"); !errors.Is(err, claims.ErrClaimFinalized) {
			t.Fatalf("err = %v, want ErrClaimFinalized", err)
		}
	})

	t.Run("bad decision", func(t *testing.T) {
		c := f.submit(t, "alice", "policy-1", 500)
		if err := f.ledger.ManualOverride(ctx, c.ID, "escalate", "op-1"); !errors.Is(err, claims.ErrInvalidArgument) {
			t.Fatalf("err = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestTerminalClaimRejectsLateVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.submit(t, "alice", "policy-1", 500)
	if err := f.ledger.ManualOverride(ctx, c.ID, "reject", "op-1"); err != nil {
		t.Fatalf("override: %v", err)
	}

	// The verification is still pending; a late authority response must
	// bounce off the finalized claim, and the request ends up Failed.
	err := f.verifier.Respond(ctx, c.VerificationID, "authority-1", true)
	if !errors.Is(err, claims.ErrClaimFinalized) {
		t.Fatalf("err = %v, want ErrClaimFinalized", err)
	}
	req, _ := f.verifier.Get(c.VerificationID)
	if req.Status != claims.VerificationFailed {
		t.Fatalf("verification status = %s, want failed", req.Status)
	}
	got, _ := f.ledger.GetClaim(c.ID)
	if got.Status != claims.StatusRejected {
		t.Fatalf("claim status = %s, want rejected", got.Status)
	}
}

func TestPayoutGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ledger.Payout(ctx, "missing"); !errors.Is(err, claims.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	c := f.submit(t, "alice", "policy-1", 500)
	// Pending claim has not passed verification yet.
	if err := f.ledger.Payout(ctx, c.ID); !errors.Is(err, claims.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}

	if err := f.verifier.Respond(ctx, c.VerificationID, "authority-1", true); err != nil {
		t.Fatalf("respond: %v", err)
	}
	// Already paid.
	if err := f.ledger.Payout(ctx, c.ID); !errors.Is(err, claims.ErrClaimFinalized) {
		t.Fatalf("err = %v, want ErrClaimFinalized", err)
	}
}

func TestListClaimsByClaimant(t *testing.T) {
	f := newFixture(t)

	f.submit(t, "alice", "policy-1", 100)
	f.submit(t, "alice", "policy-1", 200)
	f.submit(t, "bob", "policy-2", 300)

	if got := len(f.ledger.ListClaimsByClaimant("alice")); got != 2 {
		t.Fatalf("alice claims = %d, want 2", got)
	}
	if got := len(f.ledger.ListClaimsByClaimant("bob")); got != 1 {
		t.Fatalf("bob claims = %d, want 1", got)
	}
	if got := len(f.ledger.ListClaimsByClaimant("carol")); got != 0 {
		t.Fatalf("carol claims = %d, want 0", got)
	}
}

func TestAuthorityRoundRobin(t *testing.T) {
	log := audit.NewLog()
	settle := settlement.NewFakeClient()
	p := pool.New(poolOwner, settle, log)
	if err := p.AuthorizeWithdrawer(poolOwner, WithdrawerIdentity); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	verifier := verify.New(time.Hour, log)
	q, err := quorum.New([]string{"sig-a", "sig-b"}, 2, log)
	if err != nil {
		t.Fatalf("quorum: %v", err)
	}
	l := New(Deps{
		Policies: claims.StaticPolicySource{
			"policy-1": {Ref: "policy-1", Claimant: "alice", Asset: "USDC", Coverage: 50_000, Active: true},
		},
		Verifier:    verifier,
		Quorum:      q,
		Pool:        p,
		Authorities: []string{"authority-1", "authority-2"},
		Log:         log,
	})
	verifier.SetHandler(l)

	var seen []string
	for i := 0; i < 4; i++ {
		claimID, err := l.Submit(context.Background(), SubmitInput{
			Claimant: "alice", PolicyRef: "policy-1", Amount: 100, EvidenceRef: "e",
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		c, _ := l.GetClaim(claimID)
		seen = append(seen, c.Authority)
	}
	want := []string{"authority-1", "authority-2", "authority-1", "authority-2"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("authorities = %v, want %v", seen, want)
		}
	}
}

func TestAuditTrailCoversLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.submit(t, "alice", "policy-1", 500)
	if err := f.verifier.Respond(ctx, c.VerificationID, "authority-1", true); err != nil {
		t.Fatalf("respond: %v", err)
	}

	events := f.log.ListByEntity("claim", c.ID)
	var types []claims.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []claims.EventType{claims.EventClaimSubmitted, claims.EventClaimVerified, claims.EventClaimPaid}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}
}
