package guarantees

import "distsim/internal/errclass"

// Budget is one row of the overhead budget table: the maximum observed
// sender/receiver memory-probe values and network message/traffic counts an
// implementation may use for one (guarantee, message_count, faulty) cell.
type Budget struct {
	SenderMem uint64
	RecvMem   uint64
	NetMsgs   uint64
	NetBytes  uint64
}

// budgetKey indexes the table by guarantee, message count, and whether the
// run was faulty (nonzero drop/duplicate rate or network disruption).
type budgetKey struct {
	guarantee Guarantee
	msgCount  int
	faulty    bool
}

// budgetTable holds the overhead budget per (guarantee, msgCount, faulty)
// cell. Any (guarantee, msgCount) pair not present here has no defined
// budget; unlisted combinations are treated as unbounded.
var budgetTable = map[budgetKey]Budget{
	{AtMostOnce, 100, false}:  {500, 1000, 100, 15000},
	{AtMostOnce, 100, true}:   {500, 3000, 100, 15000},
	{AtMostOnce, 1000, false}: {500, 1000, 1000, 150000},
	{AtMostOnce, 1000, true}:  {500, 30000, 1000, 150000},

	{AtLeastOnce, 100, false}:  {2000, 300, 200, 15000},
	{AtLeastOnce, 100, true}:   {30000, 300, 500, 30000},
	{AtLeastOnce, 1000, false}: {10000, 300, 2000, 150000},
	{AtLeastOnce, 1000, true}:  {400000, 300, 5000, 300000},

	{ExactlyOnce, 100, false}:  {2000, 1000, 200, 15000},
	{ExactlyOnce, 100, true}:   {30000, 2000, 500, 30000},
	{ExactlyOnce, 1000, false}: {10000, 1000, 2000, 150000},
	{ExactlyOnce, 1000, true}:  {400000, 20000, 5000, 300000},

	{ExactlyOnceOrdered, 100, false}:  {3000, 1000, 200, 16000},
	{ExactlyOnceOrdered, 100, true}:   {20000, 6000, 500, 30000},
	{ExactlyOnceOrdered, 1000, false}: {10000, 1000, 2000, 200000},
	{ExactlyOnceOrdered, 1000, true}:  {300000, 10000, 5000, 400000},
}

// BudgetFor looks up the budget for one cell. ok is false for any
// (guarantee, msgCount) combination the table does not define, in which
// case the caller should treat the cell as unbounded rather than fail it.
func BudgetFor(g Guarantee, msgCount int, faulty bool) (Budget, bool) {
	b, ok := budgetTable[budgetKey{g, msgCount, faulty}]
	return b, ok
}

// CheckOverhead fails if any observed value exceeds its budgeted limit for
// (g, msgCount, faulty). A cell with no defined budget always passes.
func CheckOverhead(g Guarantee, msgCount int, faulty bool, senderMem, recvMem, netMsgs, netBytes uint64) error {
	budget, ok := BudgetFor(g, msgCount, faulty)
	if !ok {
		return nil
	}
	if senderMem > budget.SenderMem {
		return errclass.Failf("sender memory %d exceeds budget %d", senderMem, budget.SenderMem)
	}
	if recvMem > budget.RecvMem {
		return errclass.Failf("receiver memory %d exceeds budget %d", recvMem, budget.RecvMem)
	}
	if netMsgs > budget.NetMsgs {
		return errclass.Failf("network message count %d exceeds budget %d", netMsgs, budget.NetMsgs)
	}
	if netBytes > budget.NetBytes {
		return errclass.Failf("network traffic %d exceeds budget %d", netBytes, budget.NetBytes)
	}
	return nil
}
