package ledger

import (
	"context"
	"fmt"
	"sync"
)

type allowanceKey struct {
	owner, spender string
}

// Memory is a process-local ledger. It cannot join SQL transactions, so the
// registry treats it as an external collaborator.
type Memory struct {
	mu         sync.Mutex
	balances   map[string]uint64
	allowances map[allowanceKey]uint64
}

func NewMemory() *Memory {
	return &Memory{
		balances:   map[string]uint64{},
		allowances: map[allowanceKey]uint64{},
	}
}

func (m *Memory) BalanceOf(_ context.Context, account string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

func (m *Memory) Allowance(_ context.Context, owner, spender string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowances[allowanceKey{owner, spender}], nil
}

func (m *Memory) Approve(_ context.Context, owner, spender string, amount uint64) error {
	if err := checkAccounts(owner, spender); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[allowanceKey{owner, spender}] = amount
	return nil
}

func (m *Memory) TransferFrom(_ context.Context, spender, from, to string, amount uint64) error {
	if err := checkAccounts(spender, from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := allowanceKey{from, spender}
	if m.allowances[key] < amount {
		return fmt.Errorf("%w: %s allows %s %d, needs %d", ErrInsufficientAllowance, from, spender, m.allowances[key], amount)
	}
	if err := m.move(from, to, amount); err != nil {
		return err
	}
	m.allowances[key] -= amount
	return nil
}

func (m *Memory) Transfer(_ context.Context, from, to string, amount uint64) error {
	if err := checkAccounts(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(from, to, amount)
}

func (m *Memory) Mint(_ context.Context, to string, amount uint64) error {
	if err := checkAccounts(to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := addChecked(m.balances[to], amount)
	if err != nil {
		return err
	}
	m.balances[to] = next
	return nil
}

func (m *Memory) move(from, to string, amount uint64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if m.balances[from] < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientBalance, from, m.balances[from], amount)
	}
	if from == to {
		return nil
	}
	credited, err := addChecked(m.balances[to], amount)
	if err != nil {
		return err
	}
	m.balances[from] -= amount
	m.balances[to] = credited
	return nil
}
