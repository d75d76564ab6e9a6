package worker

import (
	"encoding/json"
	"fmt"

	"github.com/flacronsport/daily/internal/premium"
)

// Message types exchanged between pages and installed workers.
const (
	TypeStatusUpdate  = "PREMIUM_STATUS_UPDATE"
	TypeRequestStatus = "REQUEST_PREMIUM_STATUS"
)

// Message is one worker/page message. Premium and Pending are only set on
// status updates.
type Message struct {
	Type    string `json:"type"`
	Premium bool   `json:"premium"`
	Pending bool   `json:"pending"`
}

// StatusUpdate builds the message that carries st.
func StatusUpdate(st premium.State) Message {
	return Message{Type: TypeStatusUpdate, Premium: st.Premium, Pending: st.Pending}
}

// State returns the entitlement a status update carries.
func (m Message) State() premium.State {
	return premium.State{Premium: m.Premium, Pending: m.Pending}
}

func (m Message) MarshalJSON() ([]byte, error) {
	if m.Type != TypeStatusUpdate {
		return json.Marshal(struct {
			Type string `json:"type"`
		}{m.Type})
	}
	type plain Message
	return json.Marshal(plain(m))
}

// ParseMessage decodes raw. ok is false, with a nil error, for well-formed
// messages of a type this package does not know.
func ParseMessage(raw []byte) (msg Message, ok bool, err error) {
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, false, fmt.Errorf("decode worker message: %w", err)
	}
	switch msg.Type {
	case TypeStatusUpdate:
		return msg, true, nil
	case TypeRequestStatus:
		return Message{Type: TypeRequestStatus}, true, nil
	}
	return Message{}, false, nil
}
