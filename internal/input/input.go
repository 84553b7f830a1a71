// Package input tracks the actions a client can trigger.
package input

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opendrakan/statesync/pkg/core"
)

var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrNotAnalog       = errors.New("action is not analog")
	ErrAnalog          = errors.New("action is analog")
	ErrDuplicateAction = errors.New("action already registered")
)

// ActionState is the state of a digital action.
type ActionState uint8

const (
	Released ActionState = iota
	Pressed
	// Triggered is a one-shot event without a held state.
	Triggered
)

func (s ActionState) String() string {
	switch s {
	case Released:
		return "released"
	case Pressed:
		return "pressed"
	case Triggered:
		return "triggered"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ActionHandle is a registered action. Callbacks run on the goroutine that
// injects the action.
type ActionHandle struct {
	code   core.ActionCode
	name   string
	analog bool

	mu       sync.Mutex
	state    ActionState
	x, y     float32
	triggers uint64
	onAction []func(ActionState)
	onAnalog []func(x, y float32)
}

func (h *ActionHandle) Code() core.ActionCode { return h.code }
func (h *ActionHandle) Name() string          { return h.name }
func (h *ActionHandle) IsAnalog() bool        { return h.analog }

// State returns the last digital state.
func (h *ActionHandle) State() ActionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Axes returns the last analog position.
func (h *ActionHandle) Axes() (x, y float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.x, h.y
}

// TriggerCount returns how often the action was injected.
func (h *ActionHandle) TriggerCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.triggers
}

// OnAction adds a callback for digital injections.
func (h *ActionHandle) OnAction(fn func(ActionState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAction = append(h.onAction, fn)
}

// OnAnalog adds a callback for analog injections.
func (h *ActionHandle) OnAnalog(fn func(x, y float32)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAnalog = append(h.onAnalog, fn)
}

// Manager holds the actions of one client.
type Manager struct {
	mu      sync.RWMutex
	actions map[core.ActionCode]*ActionHandle
}

func NewManager() *Manager {
	return &Manager{actions: make(map[core.ActionCode]*ActionHandle)}
}

// RegisterAction adds an action. Codes are unique per manager.
func (m *Manager) RegisterAction(code core.ActionCode, name string, analog bool) (*ActionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.actions[code]; ok {
		return nil, fmt.Errorf("code %d (%s): %w", code, existing.name, ErrDuplicateAction)
	}
	h := &ActionHandle{code: code, name: name, analog: analog}
	m.actions[code] = h
	return h, nil
}

// Action returns the handle for code, or nil.
func (m *Manager) Action(code core.ActionCode) *ActionHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.actions[code]
}

func (m *Manager) lookup(code core.ActionCode) (*ActionHandle, error) {
	h := m.Action(code)
	if h == nil {
		return nil, fmt.Errorf("code %d: %w", code, ErrUnknownAction)
	}
	return h, nil
}

// InjectAction applies a digital action received from the client.
func (m *Manager) InjectAction(code core.ActionCode, state ActionState) error {
	h, err := m.lookup(code)
	if err != nil {
		return err
	}
	if h.analog {
		return fmt.Errorf("code %d: %w", code, ErrAnalog)
	}
	if state > Triggered {
		return fmt.Errorf("code %d: invalid state %d", code, state)
	}

	h.mu.Lock()
	if state != Triggered {
		h.state = state
	}
	h.triggers++
	callbacks := h.onAction
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(state)
	}
	return nil
}

// InjectAnalogAction applies an analog action received from the client.
func (m *Manager) InjectAnalogAction(code core.ActionCode, x, y float32) error {
	h, err := m.lookup(code)
	if err != nil {
		return err
	}
	if !h.analog {
		return fmt.Errorf("code %d: %w", code, ErrNotAnalog)
	}

	h.mu.Lock()
	h.x, h.y = x, y
	h.triggers++
	callbacks := h.onAnalog
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(x, y)
	}
	return nil
}
