package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/canvasync/internal/element"
)

// MessageType names a realtime event.
type MessageType string

const (
	TypeConnected    MessageType = "connected"
	TypeDisconnected MessageType = "disconnected"
	TypeInit         MessageType = "init"

	TypeGeneratorCreate MessageType = "generator.create"
	TypeGeneratorUpdate MessageType = "generator.update"
	TypeGeneratorDelete MessageType = "generator.delete"

	TypeMediaCreate MessageType = "media.create"
	TypeMediaUpdate MessageType = "media.update"
	TypeMediaDelete MessageType = "media.delete"
)

// Message is one realtime event.
//
// Create messages carry Element; update messages carry ElementID and
// Updates; delete messages carry ElementID. Init carries the sender's
// overlay state in Generators and, optionally, its media state in Media.
type Message struct {
	Type       MessageType       `json:"type" validate:"required,oneof=connected disconnected init generator.create generator.update generator.delete media.create media.update media.delete"`
	ProjectID  string            `json:"projectId,omitempty"`
	ElementID  string            `json:"elementId,omitempty"`
	Element    *element.Element  `json:"element,omitempty"`
	Updates    element.Patch     `json:"updates,omitempty"`
	Generators []element.Element `json:"generators,omitempty"`
	Media      []element.Element `json:"media,omitempty"`
	SentAt     int64             `json:"sentAt,omitempty" validate:"gte=0"`
}

var msgValidate = validator.New()

// Lifecycle reports whether t is generated locally by a transport rather
// than sent by a peer.
func (t MessageType) Lifecycle() bool {
	return t == TypeConnected || t == TypeDisconnected
}

// Generator reports whether t is a generator.* event.
func (t MessageType) Generator() bool {
	return t == TypeGeneratorCreate || t == TypeGeneratorUpdate || t == TypeGeneratorDelete
}

// Media reports whether t is a media.* event.
func (t MessageType) Media() bool {
	return t == TypeMediaCreate || t == TypeMediaUpdate || t == TypeMediaDelete
}

// Target returns the id of the element the message addresses.
func (m Message) Target() string {
	if m.Element != nil {
		return m.Element.ID
	}
	return m.ElementID
}

// DecodeMessage parses and validates a wire message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode realtime message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks that m carries the fields its type needs and that the
// elements it carries belong to the channel they were sent on.
func (m Message) Validate() error {
	if err := msgValidate.Struct(m); err != nil {
		return fmt.Errorf("invalid realtime message: %w", err)
	}
	switch m.Type {
	case TypeGeneratorCreate, TypeMediaCreate:
		if m.Element == nil {
			return fmt.Errorf("invalid realtime message: %s needs element", m.Type)
		}
		if err := m.Element.Validate(); err != nil {
			return fmt.Errorf("invalid realtime message: %w", err)
		}
		if !fits(m.Type, m.Element.Kind) {
			return fmt.Errorf("invalid realtime message: %s cannot carry %s", m.Type, m.Element.Kind)
		}
	case TypeGeneratorUpdate, TypeMediaUpdate:
		if m.ElementID == "" || len(m.Updates) == 0 {
			return fmt.Errorf("invalid realtime message: %s needs elementId and updates", m.Type)
		}
	case TypeGeneratorDelete, TypeMediaDelete:
		if m.ElementID == "" {
			return fmt.Errorf("invalid realtime message: %s needs elementId", m.Type)
		}
	case TypeInit:
		for _, e := range m.Generators {
			if err := e.Validate(); err != nil {
				return fmt.Errorf("invalid realtime init: %w", err)
			}
			if !fits(TypeGeneratorCreate, e.Kind) {
				return fmt.Errorf("invalid realtime init: %s is not an overlay", e.Kind)
			}
		}
		for _, e := range m.Media {
			if err := e.Validate(); err != nil {
				return fmt.Errorf("invalid realtime init: %w", err)
			}
		}
	}
	return nil
}

// fits reports whether an element of kind k may travel on channel t.
// Generator events carry generator and plugin overlays; media events carry
// media elements.
func fits(t MessageType, k element.Kind) bool {
	switch f := k.Family(); {
	case t.Generator():
		return f == element.FamilyGenerator || f == element.FamilyPlugin
	case t.Media():
		return f == element.FamilyMedia
	default:
		return false
	}
}

// Constructors for the messages a client sends.

func CreateMessage(e element.Element) Message {
	t := TypeMediaCreate
	if fits(TypeGeneratorCreate, e.Kind) {
		t = TypeGeneratorCreate
	}
	e = e.Normalize()
	e.Resource = ""
	return Message{Type: t, Element: &e}
}

func UpdateMessage(id string, p element.Patch) Message {
	return Message{Type: TypeGeneratorUpdate, ElementID: id, Updates: p}
}

func DeleteMessage(id string) Message {
	return Message{Type: TypeGeneratorDelete, ElementID: id}
}

func MediaUpdateMessage(id string, p element.Patch) Message {
	return Message{Type: TypeMediaUpdate, ElementID: id, Updates: p}
}

func MediaDeleteMessage(id string) Message {
	return Message{Type: TypeMediaDelete, ElementID: id}
}
