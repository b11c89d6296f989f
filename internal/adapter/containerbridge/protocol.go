package containerbridge

// wireEnvelope is the (kind, payload) pair as it crosses the stdio channel —
// the same shape message.Envelope holds in-process, kept as its own type
// here so this package never has to import internal/message for anything
// beyond what a foreign implementation actually needs to see.
type wireEnvelope struct {
	Kind    string `json:"kind"`
	Payload string `json:"payload,omitempty"`
}

// request is one line this package writes to a bridged container's stdin.
// Only the fields tagged with an Op below are populated for that Op (init
// carries ctor_args and seed, receive_message carries src and message).
type request struct {
	Op       string        `json:"op"`
	CtorArgs any           `json:"ctor_args,omitempty"` // op == "init"
	Seed     int64         `json:"seed,omitempty"`      // op == "init"
	Src      string        `json:"src,omitempty"`       // op == "receive_message"
	Name     string        `json:"name,omitempty"`      // op == "receive_timer"
	Message  *wireEnvelope `json:"message,omitempty"`   // op == "receive_message" / "receive_local"
}

// wireOutbound mirrors node.Outbound.
type wireOutbound struct {
	Dst     string       `json:"dst"`
	Message wireEnvelope `json:"message"`
}

// wireTimerSet mirrors node.TimerSet.
type wireTimerSet struct {
	Name  string  `json:"name"`
	Delay float64 `json:"delay"`
}

// response is one line a bridged container writes to stdout in reply to
// exactly one request, in request order.
type response struct {
	Error        string         `json:"error,omitempty"`
	Outbound     []wireOutbound `json:"outbound,omitempty"`
	SetTimers    []wireTimerSet `json:"set_timers,omitempty"`
	CancelTimers []string       `json:"cancel_timers,omitempty"`
	LocalOutputs []wireEnvelope `json:"local_outputs,omitempty"`
}
