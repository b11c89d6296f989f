package guarantees

import (
	"distsim/internal/message"
	"distsim/internal/node"
)

// reliableSender forwards every local MESSAGE straight to its peer, with no
// retry or deduplication logic of its own — correct under a reliable
// network, and the simplest possible instance the harness's own tests can
// drive without needing an externally-supplied --impl.
type reliableSender struct {
	peer string
}

func (s *reliableSender) ReceiveMessage(src string, m message.Envelope) (node.Emissions, error) {
	return node.Emissions{}, nil
}

func (s *reliableSender) ReceiveTimer(name string) (node.Emissions, error) {
	return node.Emissions{}, nil
}

func (s *reliableSender) ReceiveLocal(m message.Envelope) (node.Emissions, error) {
	return node.Emissions{Outbound: []node.Outbound{{Dst: s.peer, Message: m}}}, nil
}

type reliableReceiver struct {
	peer string
}

func (r *reliableReceiver) ReceiveMessage(src string, m message.Envelope) (node.Emissions, error) {
	return node.Emissions{LocalOutputs: []message.Envelope{m}}, nil
}

func (r *reliableReceiver) ReceiveTimer(name string) (node.Emissions, error) {
	return node.Emissions{}, nil
}

func (r *reliableReceiver) ReceiveLocal(m message.Envelope) (node.Emissions, error) {
	return node.Emissions{}, nil
}

// ReliableSenderFactory and ReliableReceiverFactory build the reference
// fixtures above. They are correct for every guarantee only under a
// reliable network (zero drop/duplicate rate); the harness's own fault
// injection is the thing under test there, not these fixtures.
var (
	ReliableSenderFactory = node.FactoryFunc(func(id string, ctorArgs any, seed int64) (node.Instance, error) {
		args, _ := ctorArgs.(senderReceiverArgs)
		return &reliableSender{peer: args.PeerID}, nil
	})
	ReliableReceiverFactory = node.FactoryFunc(func(id string, ctorArgs any, seed int64) (node.Instance, error) {
		args, _ := ctorArgs.(senderReceiverArgs)
		return &reliableReceiver{peer: args.PeerID}, nil
	})
)
