package claimd

import (
	"context"

	"feevault/native/escrow"
)

// SettlementClient is the surface claimd needs from the settlement ledger:
// discovery of claimable escrows, a point read for pre-claim re-validation,
// and execution of claims.
type SettlementClient interface {
	Eligible(ctx context.Context) ([]*escrow.Escrow, error)
	Get(ctx context.Context, id [32]byte) (*escrow.Escrow, error)
	Claim(ctx context.Context, id [32]byte) (*escrow.Settlement, error)
}

// EngineClient adapts an in-process escrow engine to the SettlementClient
// interface, claiming on behalf of the platform authority.
type EngineClient struct {
	engine   *escrow.Engine
	platform [20]byte
}

// NewEngineClient wraps the supplied engine.
func NewEngineClient(engine *escrow.Engine, platform [20]byte) *EngineClient {
	return &EngineClient{engine: engine, platform: platform}
}

// Eligible lists escrows ready to settle.
func (c *EngineClient) Eligible(ctx context.Context) ([]*escrow.Escrow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.engine.Eligible()
}

// Get reads a single escrow record.
func (c *EngineClient) Get(ctx context.Context, id [32]byte) (*escrow.Escrow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.engine.Get(id)
}

// Claim settles a single escrow as the platform authority.
func (c *EngineClient) Claim(ctx context.Context, id [32]byte) (*escrow.Settlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.engine.Claim(c.platform, id)
}
