package events

import (
	"errors"
	"fmt"
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

// ErrHandlerRegistered is returned when a second handler is registered for a kind.
var ErrHandlerRegistered = errors.New("events: handler already registered")

// Kind is an internal event the gateway reacts to.
type Kind int

const (
	NewBlock Kind = iota + 1
	NewRound
	CalculateFeeEstimate
)

func (k Kind) String() string {
	switch k {
	case NewBlock:
		return "newBlock"
	case NewRound:
		return "newRound"
	case CalculateFeeEstimate:
		return "calculateFeeEstimate"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) topic() string { return "kind:" + k.String() }

// Signal is a derived event republished to downstream subscribers such as websocket clients.
type Signal string

const (
	SignalNewBlock       Signal = "newBlock"
	SignalNewRound       Signal = "newRound"
	SignalNewFeeEstimate Signal = "newFeeEstimate"
)

func (s Signal) topic() string { return "signal:" + string(s) }

// RoundPayload is the payload of SignalNewRound.
type RoundPayload struct {
	NextForgers []string `json:"nextForgers"`
}

// Dispatcher is the process-wide event bus. Each kind has at most one handler; signals may
// have any number of subscribers. All handlers run asynchronously and may overlap.
type Dispatcher struct {
	bus evbus.Bus

	mu       sync.Mutex
	handlers map[Kind]bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{bus: evbus.New(), handlers: make(map[Kind]bool)}
}

// Handle registers the handler of kind.
func (d *Dispatcher) Handle(kind Kind, fn func(payload any)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers[kind] {
		return fmt.Errorf("%w: %s", ErrHandlerRegistered, kind)
	}
	if err := d.bus.SubscribeAsync(kind.topic(), fn, false); err != nil {
		return err
	}
	d.handlers[kind] = true
	return nil
}

// Dispatch fires kind without waiting for its handler.
func (d *Dispatcher) Dispatch(kind Kind, payload any) {
	d.bus.Publish(kind.topic(), payload)
}

// OnSignal subscribes fn to a derived signal.
func (d *Dispatcher) OnSignal(signal Signal, fn func(payload any)) error {
	return d.bus.SubscribeAsync(signal.topic(), fn, false)
}

// Publish republishes a derived signal.
func (d *Dispatcher) Publish(signal Signal, payload any) {
	d.bus.Publish(signal.topic(), payload)
}

// Wait blocks until every running handler has returned.
func (d *Dispatcher) Wait() {
	d.bus.WaitAsync()
}
