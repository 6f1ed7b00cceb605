// Package store provides ChargeStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/estate-billing/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	charges map[billing.ChargeID]billing.Charge
	periods map[billing.Period]billing.PeriodState
}

func NewMemory() *Memory {
	return &Memory{
		charges: make(map[billing.ChargeID]billing.Charge),
		periods: make(map[billing.Period]billing.PeriodState),
	}
}

func (m *Memory) GetCharge(_ context.Context, id billing.ChargeID) (billing.Charge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id billing.ChargeID) (billing.Charge, error) {
	c, ok := m.charges[id]
	if !ok {
		return billing.Charge{}, billing.ErrChargeNotFound
	}
	return copyCharge(c), nil
}

func (m *Memory) ChargesByPeriod(_ context.Context, period billing.Period) ([]billing.Charge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byPeriodLocked(period), nil
}

func (m *Memory) byPeriodLocked(period billing.Period) []billing.Charge {
	var result []billing.Charge
	for _, c := range m.charges {
		if c.Period == period {
			result = append(result, copyCharge(c))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UnitID < result[j].UnitID })
	return result
}

// SaveCharges upserts all charges. A charge for an existing (unit, period)
// under a different ID replaces the old row, matching the SQL unique key.
func (m *Memory) SaveCharges(_ context.Context, charges []billing.Charge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked(charges)
	return nil
}

func (m *Memory) saveLocked(charges []billing.Charge) {
	for _, c := range charges {
		for id, existing := range m.charges {
			if id != c.ID && existing.UnitID == c.UnitID && existing.Period == c.Period {
				delete(m.charges, id)
			}
		}
		m.charges[c.ID] = copyCharge(c)
	}
}

func (m *Memory) DeleteCharges(_ context.Context, period billing.Period, unitIDs []billing.UnitID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(period, unitIDs), nil
}

func (m *Memory) deleteLocked(period billing.Period, unitIDs []billing.UnitID) int {
	want := make(map[billing.UnitID]bool, len(unitIDs))
	for _, id := range unitIDs {
		want[id] = true
	}
	removed := 0
	for id, c := range m.charges {
		if c.Period == period && want[c.UnitID] {
			delete(m.charges, id)
			removed++
		}
	}
	return removed
}

func (m *Memory) PeriodState(_ context.Context, period billing.Period) (billing.PeriodState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked(period), nil
}

func (m *Memory) stateLocked(period billing.Period) billing.PeriodState {
	if s, ok := m.periods[period]; ok {
		return s
	}
	return billing.PeriodState{Period: period}
}

func (m *Memory) SavePeriodState(_ context.Context, state billing.PeriodState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods[state.Period] = state
	return nil
}

func copyCharge(c billing.Charge) billing.Charge {
	c.Warnings = append([]string(nil), c.Warnings...)
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(billing.ChargeStore) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	charges map[billing.ChargeID]billing.Charge
	periods map[billing.Period]billing.PeriodState
}

func (tm *TxMemory) snapshot() memorySnapshot {
	charges := make(map[billing.ChargeID]billing.Charge, len(tm.charges))
	for k, v := range tm.charges {
		charges[k] = copyCharge(v)
	}
	periods := make(map[billing.Period]billing.PeriodState, len(tm.periods))
	for k, v := range tm.periods {
		periods[k] = v
	}
	return memorySnapshot{charges: charges, periods: periods}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.charges = s.charges
	tm.periods = s.periods
}

// txMemoryView runs against the parent while its lock is held by WithTx.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) GetCharge(_ context.Context, id billing.ChargeID) (billing.Charge, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) ChargesByPeriod(_ context.Context, period billing.Period) ([]billing.Charge, error) {
	return tv.parent.byPeriodLocked(period), nil
}

func (tv *txMemoryView) SaveCharges(_ context.Context, charges []billing.Charge) error {
	tv.parent.saveLocked(charges)
	return nil
}

func (tv *txMemoryView) DeleteCharges(_ context.Context, period billing.Period, unitIDs []billing.UnitID) (int, error) {
	return tv.parent.deleteLocked(period, unitIDs), nil
}

func (tv *txMemoryView) PeriodState(_ context.Context, period billing.Period) (billing.PeriodState, error) {
	return tv.parent.stateLocked(period), nil
}

func (tv *txMemoryView) SavePeriodState(_ context.Context, state billing.PeriodState) error {
	tv.parent.periods[state.Period] = state
	return nil
}

var (
	_ billing.TxStore     = (*TxMemory)(nil)
	_ billing.ChargeStore = (*txMemoryView)(nil)
)
