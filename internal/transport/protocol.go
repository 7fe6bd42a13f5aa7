// ABOUTME: WebSocket frame types exchanged between clients and the hub
// ABOUTME: Clients send rpc and utterance frames; the hub sends text and rpc result frames

package transport

// Inbound frame types.
const (
	FrameRPC       = "rpc"
	FrameUtterance = "utterance"
)

// Outbound frame types.
const (
	FrameText      = "text"
	FrameRPCResult = "rpc_result"
	FrameRPCError  = "rpc_error"
)

// InboundFrame is a client -> hub message.
type InboundFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method,omitempty"`
	Payload string `json:"payload,omitempty"`
	Text    string `json:"text,omitempty"`
}

// OutboundFrame is a hub -> client message.
type OutboundFrame struct {
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
	ID      string `json:"id,omitempty"`
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}
