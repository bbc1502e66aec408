package protocol

// Packet is the wire unit exchanged between nodes, one per request or
// response. Responses echo the request id of the request they answer;
// correlation is by id only, responses may arrive in any order.
type Packet struct {
	RequestID uint32 `json:"request_id"`
	Result    Result `json:"result"`
	Message   string `json:"message,omitempty"`
	Payload   []byte `json:"payload,omitempty"`
}

// Request is the envelope carried in a request Packet's payload. The service
// name addresses the handler on the receiving node; the payload is opaque to
// the overlay.
type Request struct {
	Service string `json:"service"`
	Payload []byte `json:"payload,omitempty"`
}

// Hello is exchanged during the membership handshake. Address is the
// advertised address other nodes can dial; PublicAddress overrides it when
// the node sits behind address translation.
type Hello struct {
	Address       string   `json:"address"`
	PublicAddress string   `json:"public_address,omitempty"`
	Services      []string `json:"services,omitempty"`
	Peers         []string `json:"peers,omitempty"`
}

// AdvertisedAddress returns the address peers should dial.
func (h *Hello) AdvertisedAddress() string {
	if h.PublicAddress != "" {
		return h.PublicAddress
	}
	return h.Address
}

// ServiceUpdate announces the full hosted-service list of a node after a
// change. Receivers replace their view of that node's services with it.
type ServiceUpdate struct {
	Address  string   `json:"address"`
	Services []string `json:"services,omitempty"`
}
