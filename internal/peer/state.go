package peer

// LinkState is the negotiation state of one peer link.
type LinkState string

const (
	StateNew             LinkState = "new"
	StateHaveLocalOffer  LinkState = "have-local-offer"
	StateHaveRemoteOffer LinkState = "have-remote-offer"
	StateConnected       LinkState = "connected"
	StateClosed          LinkState = "closed"
	StateFailed          LinkState = "failed"
)

func (s LinkState) terminal() bool {
	return s == StateClosed || s == StateFailed
}

func (s LinkState) String() string {
	return string(s)
}
