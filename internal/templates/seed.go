package templates

import "private-db-agent/internal/dbadapter"

// DefaultTemplates returns the fixed set of templates the agent ships with.
// This is the entire allowlist surface capability policy can grant against;
// there is deliberately no runtime registration path.
func DefaultTemplates() []Template {
	return []Template{
		{
			Name:       "wallet_balances",
			Mode:       dbadapter.ModeRead,
			Capability: "database:read",
			Params: []Param{
				{Name: "wallet_address", Kind: KindAddress, Required: true},
				{Name: "chain_id", Kind: KindInteger, Required: true, Min: 1, Max: 1 << 32},
			},
			SQL: map[string]string{
				"sqlite": `SELECT wallet_address, chain_id, asset, balance, updated_at
					FROM wallet_balances WHERE wallet_address = ? AND chain_id = ?`,
				"postgres": `SELECT wallet_address, chain_id, asset, balance, updated_at
					FROM wallet_balances WHERE wallet_address = ? AND chain_id = ?`,
			},
		},
		{
			Name:       "wallet_positions",
			Mode:       dbadapter.ModeRead,
			Capability: "database:read",
			Params: []Param{
				{Name: "wallet_address", Kind: KindAddress, Required: true},
				{Name: "chain_id", Kind: KindInteger, Required: true, Min: 1, Max: 1 << 32},
			},
			SQL: map[string]string{
				"sqlite": `SELECT wallet_address, chain_id, market, size, updated_at
					FROM wallet_positions WHERE wallet_address = ? AND chain_id = ?`,
				"postgres": `SELECT wallet_address, chain_id, market, size, updated_at
					FROM wallet_positions WHERE wallet_address = ? AND chain_id = ?`,
			},
		},
		{
			Name:       "wallet_transactions",
			Mode:       dbadapter.ModeRead,
			Capability: "database:read",
			Params: []Param{
				{Name: "wallet_address", Kind: KindAddress, Required: true},
				{Name: "chain_id", Kind: KindInteger, Required: true, Min: 1, Max: 1 << 32},
				{Name: "since", Kind: KindISODate, Required: false},
				{Name: "limit", Kind: KindInteger, Required: false, Default: int64(50), Min: 1, Max: 500},
			},
			SQL: map[string]string{
				"sqlite": `SELECT tx_id, wallet_address, chain_id, amount, created_at
					FROM wallet_transactions
					WHERE wallet_address = ? AND chain_id = ? AND created_at >= ?
					ORDER BY created_at DESC LIMIT ?`,
				"postgres": `SELECT tx_id, wallet_address, chain_id, amount, created_at
					FROM wallet_transactions
					WHERE wallet_address = ? AND chain_id = ? AND created_at >= ?
					ORDER BY created_at DESC LIMIT ?`,
			},
		},
		{
			Name:       "access_log_insert",
			Mode:       dbadapter.ModeWrite,
			Capability: "database:write",
			Params: []Param{
				{Name: "requester", Kind: KindString, Required: true, MinLen: 1, MaxLen: 128},
				{Name: "capability", Kind: KindString, Required: true, MinLen: 1, MaxLen: 64},
				{Name: "query_template", Kind: KindString, Required: true, MinLen: 1, MaxLen: 128},
				{Name: "outcome", Kind: KindEnum, Required: true, EnumValues: []string{"ALLOWED", "DENIED", "ERROR"}},
			},
			SQL: map[string]string{
				"sqlite": `INSERT INTO access_log (requester, capability, query_template, outcome)
					VALUES (?, ?, ?, ?)`,
				"postgres": `INSERT INTO access_log (requester, capability, query_template, outcome)
					VALUES (?, ?, ?, ?)`,
			},
		},
	}
}
