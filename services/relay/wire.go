package relay

// HeaderNode carries the sending node's identity on peer requests
const HeaderNode = "X-Chat-Node"

// PeerPath is where every node accepts peer requests
const PeerPath = "/peer"

type SendRequest struct {
	Target  string `json:"target"`
	Message string `json:"message"`
}

type HistoryRequest struct {
	Node string `json:"node"`
}

// Request is the two-variant peer request; exactly one field is set
type Request struct {
	Send    *SendRequest    `json:"Send,omitempty"`
	History *HistoryRequest `json:"History,omitempty"`
}

type WireMessage struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

type HistoryResponse struct {
	Messages []WireMessage `json:"messages"`
}

// Ack is the empty body of a Send acknowledgment
type Ack struct{}

// Response mirrors Request: Send is an ack, History carries messages
type Response struct {
	Send    *Ack             `json:"Send,omitempty"`
	History *HistoryResponse `json:"History,omitempty"`
}

// errorBody is the shape apperrors renders for failures
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
