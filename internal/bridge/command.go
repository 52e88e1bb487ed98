package bridge

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// TopupCommand asks a card reader to credit a card.
// Its wire form on the topup topic is exactly {"uid":...,"amount":...}.
type TopupCommand struct {
	UID    string  `json:"uid"`
	Amount float64 `json:"amount"`
}

// Validate checks the command. The returned error wraps ErrValidation.
func (c TopupCommand) Validate() error {
	if strings.TrimSpace(c.UID) == "" {
		return fmt.Errorf("%w: uid must be a non-empty string", ErrValidation)
	}
	if math.IsNaN(c.Amount) || math.IsInf(c.Amount, 0) {
		return fmt.Errorf("%w: amount must be a finite number", ErrValidation)
	}
	if c.Amount <= 0 {
		return fmt.Errorf("%w: amount must be greater than 0", ErrValidation)
	}
	return nil
}

// payload serialises the command for the bus.
func (c TopupCommand) payload() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshalling top-up command: %w", err)
	}
	return data, nil
}

// TopupReceipt acknowledges that a command was handed to the bus.
// It is not a confirmation from the device.
type TopupReceipt struct {
	CommandID  string    `json:"command_id"`
	Topic      string    `json:"topic"`
	AcceptedAt time.Time `json:"accepted_at"`
}
