package gateway

// ConnState is the connection state of a gateway instance
type ConnState string

const (
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
	StateConnecting ConnState = "connecting"
)

// ErrorResponse is the gateway error body
type ErrorResponse struct {
	Error string `json:"error"`
}

type connectionStateResponse struct {
	Instance struct {
		InstanceName string    `json:"instanceName"`
		State        ConnState `json:"state"`
	} `json:"instance"`
}

type numberCheckRequest struct {
	Numbers []string `json:"numbers"`
}

type numberCheckEntry struct {
	Number string `json:"number"`
	Exists bool   `json:"exists"`
	JID    string `json:"jid"`
}

// NumberCheck is the result of a WhatsApp reachability check
type NumberCheck struct {
	Exists bool
	JID    string
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
}

// SendResult identifies a message accepted by the gateway
type SendResult struct {
	ID string
}
