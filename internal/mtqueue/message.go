package mtqueue

import (
	"encoding/json"
	"fmt"
	"strings"

	"agentcore/internal/dbsync"
)

// Kind names a logical channel of the queue (§3 GLOSSARY "Kind").
type Kind int

const (
	Stateless Kind = iota
	Stateful
	Command
)

func (k Kind) String() string {
	switch k {
	case Stateless:
		return "STATELESS"
	case Stateful:
		return "STATEFUL"
	case Command:
		return "COMMAND"
	default:
		return "UNKNOWN"
	}
}

func (k Kind) table() string {
	switch k {
	case Stateless:
		return "queue_stateless"
	case Stateful:
		return "queue_stateful"
	case Command:
		return "queue_command"
	default:
		return ""
	}
}

// AllKinds lists every queue channel, used for schema bootstrap and
// stored_items-across-kinds capacity accounting.
var AllKinds = []Kind{Stateless, Stateful, Command}

// Message is the queue tuple from §3: (kind, payload, module_name,
// module_type, metadata). ID is the row id Push assigned (one past the
// kind table's max id), used to establish FIFO order; zero on a
// not-yet-persisted Message.
type Message struct {
	ID         int64
	Kind       Kind
	Payload    json.RawMessage
	ModuleName string
	ModuleType string
	Metadata   string
}

// splitPayload implements §4.6 push's counting rule: a JSON object payload
// persists as 1 item; a JSON array persists as one item per element. Each
// returned element is itself a complete JSON document ready to store in a
// row's message column.
func splitPayload(payload json.RawMessage) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return nil, fmt.Errorf("mtqueue: empty payload")
	}
	if trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(payload, &elems); err != nil {
			return nil, &dbsync.JsonError{ID: 1, Message: "payload declared as array but failed to parse: " + err.Error()}
		}
		return elems, nil
	}
	return []json.RawMessage{payload}, nil
}

// nullMessage synthesizes the §4.6/§9 "null message" sentinel returned by
// get_next on an empty kind: kind and the requested module fields are
// echoed back, payload is an empty object. Preserved as specified per the
// Open Question decision in DESIGN.md.
func nullMessage(kind Kind, module, moduleType string) Message {
	return Message{
		Kind:       kind,
		Payload:    json.RawMessage("{}"),
		ModuleName: module,
		ModuleType: moduleType,
	}
}
