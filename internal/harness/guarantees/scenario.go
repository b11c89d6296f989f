package guarantees

import (
	"distsim/internal/engine"
	"distsim/internal/node"
)

// Run builds a sender/receiver pair, sends a generated corpus of
// messageCount messages, drains to quiescence, and checks the delivered log
// against g. It returns the error CheckGuarantees/CheckOverhead produced, if
// any — nil means the scenario passed.
func Run(seed int64, senderFactory, receiverFactory node.Factory, g Guarantee, messageCount int, measureMaxSize bool, configureNetwork func(e *engine.Engine)) error {
	e := engine.New(seed)
	if configureNetwork != nil {
		configureNetwork(e)
	}
	if err := BuildSenderReceiver(e, senderFactory, receiverFactory, measureMaxSize); err != nil {
		return err
	}

	corpus := GenerateCorpus(e.Rand(), messageCount)
	sent, err := SendCorpus(e, e.Rand(), "sender", corpus)
	if err != nil {
		return err
	}
	if _, err := e.StepUntilNoEvents(); err != nil {
		return err
	}
	return CheckGuarantees(e, "receiver", sent, g)
}

// RunWithOverhead is Run plus an overhead-budget check against the observed
// sender/receiver memory probes and network counters, mirroring the
// harness's --overhead mode which runs each scenario twice: once plain and
// once with the memory probe armed.
func RunWithOverhead(seed int64, senderFactory, receiverFactory node.Factory, g Guarantee, messageCount int, faulty bool, configureNetwork func(e *engine.Engine)) error {
	e := engine.New(seed)
	if configureNetwork != nil {
		configureNetwork(e)
	}
	if err := BuildSenderReceiver(e, senderFactory, receiverFactory, true); err != nil {
		return err
	}

	corpus := GenerateCorpus(e.Rand(), messageCount)
	sent, err := SendCorpus(e, e.Rand(), "sender", corpus)
	if err != nil {
		return err
	}
	if _, err := e.StepUntilNoEvents(); err != nil {
		return err
	}
	if err := CheckGuarantees(e, "receiver", sent, g); err != nil {
		return err
	}

	obs := e.Observability()
	return CheckOverhead(g, messageCount, faulty,
		obs.GetMaxSize("sender"), obs.GetMaxSize("receiver"),
		obs.GetNetworkMessageCount(), obs.GetNetworkTraffic())
}
