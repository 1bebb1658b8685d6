package domain

import "fmt"

// Protocol is the stable human-visible identifier of a ticket. Local
// protocols look like LOC000123; upstream protocols are passed through
// as HubSoft returns them.
type Protocol string

// LocalProtocol formats a local ticket id as LOC + six-digit zero-padded
// number.
func LocalProtocol(id TicketID) Protocol {
	return Protocol(fmt.Sprintf("LOC%06d", int64(id)))
}

// HubSoftProtocol wraps an upstream protocol string unchanged.
func HubSoftProtocol(s string) Protocol {
	return Protocol(s)
}

func (p Protocol) String() string { return string(p) }
