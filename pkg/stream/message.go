package stream

// MessageType tags a channel message
type MessageType string

const (
	TypeInit     MessageType = "init"
	TypeStep     MessageType = "step"
	TypeComplete MessageType = "complete"
	TypeError    MessageType = "error"
)

// Message is one item delivered to consumers
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

// Terminal reports whether m ends a run
func (m Message) Terminal() bool {
	return m.Type == TypeComplete || m.Type == TypeError
}

// InitData announces the time grid of a run
type InitData struct {
	TEnd float64 `json:"t_end"`
	Dt   float64 `json:"dt"`
}

func Init(tEnd, dt float64) Message {
	return Message{Type: TypeInit, Data: InitData{TEnd: tEnd, Dt: dt}}
}

func Step(data any) Message {
	return Message{Type: TypeStep, Data: data}
}

func Complete(data any) Message {
	return Message{Type: TypeComplete, Data: data}
}

func Error(msg string) Message {
	return Message{Type: TypeError, Data: msg}
}

// Frame is what a subscriber receives: a message or an idle heartbeat
type Frame struct {
	Message   Message
	Heartbeat bool
}
