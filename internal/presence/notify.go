package presence

import (
	"encoding/xml"
	"fmt"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// Dialog state tokens carried in the presence document.
const (
	StateConfirmed  = "confirmed"
	StateTerminated = "terminated"
)

// Message is one point-in-time dialog-state update for a (slot, tenant)
// entity. It is rendered and sent fire-and-forget; nothing is persisted.
type Message struct {
	Tenant   string
	Slot     string
	State    string
	Occupant string // display identity, set only while parked
	Version  uint64
}

// Entity returns the slot@tenant address the message describes.
func (m Message) Entity() string {
	return m.Slot + "@" + m.Tenant
}

// dialogInfo is the dialog-state document body.
type dialogInfo struct {
	XMLName xml.Name   `xml:"dialog-info"`
	XMLNS   string     `xml:"xmlns,attr"`
	Version uint64     `xml:"version,attr"`
	State   string     `xml:"state,attr"`
	Entity  string     `xml:"entity,attr"`
	Dialog  dialogElem `xml:"dialog"`
}

type dialogElem struct {
	ID        string       `xml:"id,attr"`
	Direction string       `xml:"direction,attr"`
	State     string       `xml:"state"`
	Local     *participant `xml:"local,omitempty"`
	Remote    *participant `xml:"remote,omitempty"`
}

type participant struct {
	Identity identityElem `xml:"identity"`
}

type identityElem struct {
	Display string `xml:"display,attr,omitempty"`
	URI     string `xml:",chardata"`
}

// buildNotify renders a Message into the on-wire NOTIFY datagram. All
// encoding detail lives here: header tokens (branch, from-tag, call-id,
// dialog id) are opaque random values regenerated per message.
func buildNotify(msg Message, localHost string) ([]byte, error) {
	entityURI := "sip:" + msg.Entity()

	var recipient sip.Uri
	if err := sip.ParseUri(entityURI, &recipient); err != nil {
		return nil, fmt.Errorf("parsing entity uri: %w", err)
	}

	body, err := renderDialogInfo(msg, entityURI)
	if err != nil {
		return nil, err
	}

	req := sip.NewRequest(sip.NOTIFY, recipient)
	req.SetTransport("UDP")
	req.AppendHeader(sip.NewHeader("Via",
		fmt.Sprintf("SIP/2.0/UDP %s;branch=z9hG4bK%s;rport", localHost, uuid.NewString())))
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	req.AppendHeader(sip.NewHeader("From", fmt.Sprintf("<%s>;tag=%s", entityURI, uuid.NewString())))
	req.AppendHeader(sip.NewHeader("To", "<"+entityURI+">"))
	req.AppendHeader(sip.NewHeader("Call-ID", uuid.NewString()))
	req.AppendHeader(sip.NewHeader("CSeq", "1 NOTIFY"))
	req.AppendHeader(sip.NewHeader("Contact", fmt.Sprintf("<sip:%s@%s>", msg.Slot, localHost)))
	req.AppendHeader(sip.NewHeader("Event", "dialog"))
	req.AppendHeader(sip.NewHeader("Subscription-State", "active"))
	req.AppendHeader(sip.NewHeader("Content-Type", "application/dialog-info+xml"))
	req.SetBody(body)

	return []byte(req.String()), nil
}

// renderDialogInfo produces the dialog-state XML body. The remote identity
// block is present only while the slot is occupied.
func renderDialogInfo(msg Message, entityURI string) ([]byte, error) {
	doc := dialogInfo{
		XMLNS:   "urn:ietf:params:xml:ns:dialog-info",
		Version: msg.Version,
		State:   "full",
		Entity:  entityURI,
		Dialog: dialogElem{
			ID:        uuid.NewString(),
			Direction: "recipient",
			State:     msg.State,
			Local: &participant{
				Identity: identityElem{Display: msg.Slot, URI: entityURI},
			},
		},
	}

	if msg.State == StateConfirmed && msg.Occupant != "" {
		doc.Dialog.Remote = &participant{
			Identity: identityElem{
				Display: msg.Occupant,
				URI:     fmt.Sprintf("sip:%s@%s", msg.Occupant, msg.Tenant),
			},
		}
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling dialog-info: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
