// Package allowance tracks an ERC-20 allowance for one (token, owner,
// spender) triple against a target amount.
package allowance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/types"
	"github.com/sigweihq/storepay/pkg/utils"
)

// ErrUnresolvedAddress is returned when owner, spender or token is missing
var ErrUnresolvedAddress = errors.New("address not resolved")

// Status is the monitor's view of the allowance
type Status string

const (
	StatusChecking      Status = "checking"
	StatusApproved      Status = "approved"
	StatusNeedsApproval Status = "needs-approval"
	StatusError         Status = "error"
)

// Params identifies what is monitored
type Params struct {
	Token   string
	Owner   string
	Spender string
	Target  *big.Int // minor units; nil or <= 0 means nothing to approve
}

// State is a point-in-time view of the monitor
type State struct {
	Status Status
	// Allowance is nil until a read has succeeded
	Allowance *big.Int
	Target    *big.Int
	Err       error
	ReadAt    time.Time
}

// IsApproved applies allowance >= target to the state
func (s State) IsApproved() bool {
	return s.Status == StatusApproved
}

// Monitor reads allowance on demand. It never polls on its own and never
// updates the allowance optimistically; a value is only reported after a
// read returns. Between reads the reported value can lag the chain.
type Monitor struct {
	reader chains.AllowanceReader
	params Params
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	state   State
	seq     uint64 // last issued read
	applied uint64 // last applied read
	subs    utils.Subscribers[State]
}

// NewMonitor creates a monitor in the checking state. A non-positive target
// is approved immediately without any read.
func NewMonitor(reader chains.AllowanceReader, params Params, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		reader: reader,
		params: params,
		logger: logger,
		now:    time.Now,
	}
	m.state = State{Status: StatusChecking, Target: copyInt(params.Target)}
	if !hasTarget(params.Target) {
		m.state.Status = StatusApproved
	}
	return m
}

// Params returns the monitored triple and target
func (m *Monitor) Params() Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.params
	p.Target = copyInt(p.Target)
	return p
}

// State returns the current state
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.state)
}

// IsApproved reports allowance >= target for the last completed read
func (m *Monitor) IsApproved() bool {
	return m.State().IsApproved()
}

// Subscribe registers fn for every state change
func (m *Monitor) Subscribe(fn func(State)) func() {
	return m.subs.Subscribe(fn)
}

// SetTarget changes the target and re-derives the status from the last read
func (m *Monitor) SetTarget(target *big.Int) {
	m.mu.Lock()
	m.params.Target = copyInt(target)
	m.state.Target = copyInt(target)
	m.state.Status = m.derive(m.state.Allowance, m.state.Err)
	snapshot := cloneState(m.state)
	m.mu.Unlock()

	m.subs.Publish(snapshot)
}

// Refresh reads the allowance now and returns the resulting state. A zero
// target short-circuits to approved without touching the chain. When reads
// overlap, only the newest result is applied.
func (m *Monitor) Refresh(ctx context.Context) (State, error) {
	m.mu.Lock()
	params := m.params
	if !hasTarget(params.Target) {
		m.state = State{Status: StatusApproved, Allowance: m.state.Allowance, Target: copyInt(params.Target), ReadAt: m.state.ReadAt}
		snapshot := cloneState(m.state)
		m.mu.Unlock()
		m.subs.Publish(snapshot)
		return snapshot, nil
	}

	if err := validateParams(params); err != nil {
		m.state.Status = StatusError
		m.state.Err = err
		snapshot := cloneState(m.state)
		m.mu.Unlock()
		m.subs.Publish(snapshot)
		return snapshot, err
	}

	m.seq++
	seq := m.seq
	m.state.Status = StatusChecking
	m.state.Err = nil
	checking := cloneState(m.state)
	m.mu.Unlock()
	m.subs.Publish(checking)

	amount, err := m.reader.Allowance(ctx, params.Token, params.Owner, params.Spender)
	if err == nil && amount == nil {
		err = errors.New("empty allowance result")
	}

	m.mu.Lock()
	if seq < m.applied {
		// a newer read already landed
		snapshot := cloneState(m.state)
		m.mu.Unlock()
		return snapshot, err
	}
	m.applied = seq

	if err != nil {
		m.state.Status = StatusError
		m.state.Err = fmt.Errorf("allowance read failed: %w", err)
	} else {
		m.state.Allowance = copyInt(amount)
		m.state.Err = nil
		m.state.ReadAt = m.now()
		m.state.Status = m.derive(m.state.Allowance, nil)
	}
	snapshot := cloneState(m.state)
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("allowance read failed", "token", params.Token, "owner", params.Owner, "error", err)
	} else {
		m.logger.Debug("allowance read", "token", params.Token, "owner", params.Owner, "allowance", amount.String(), "status", snapshot.Status)
	}

	m.subs.Publish(snapshot)
	return snapshot, snapshot.Err
}

// derive must be called with mu held
func (m *Monitor) derive(current *big.Int, readErr error) Status {
	if !hasTarget(m.params.Target) {
		return StatusApproved
	}
	if readErr != nil {
		return StatusError
	}
	if current == nil {
		return StatusChecking
	}
	a := types.Allowance{Amount: current}
	if a.Covers(m.params.Target) {
		return StatusApproved
	}
	return StatusNeedsApproval
}

func validateParams(p Params) error {
	for name, addr := range map[string]string{"token": p.Token, "owner": p.Owner, "spender": p.Spender} {
		if addr == "" || !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %s %q", ErrUnresolvedAddress, name, addr)
		}
	}
	return nil
}

func hasTarget(target *big.Int) bool {
	return target != nil && target.Sign() > 0
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneState(s State) State {
	s.Allowance = copyInt(s.Allowance)
	s.Target = copyInt(s.Target)
	return s
}
