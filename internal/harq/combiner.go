package harq

// Combiner merges a retransmitted block into the soft buffer in place.
// It runs under the process lock and must not call back into the process.
type Combiner interface {
	Combine(soft, data []byte)
}

// CombinerFunc adapts a function to a Combiner.
type CombinerFunc func(soft, data []byte)

func (f CombinerFunc) Combine(soft, data []byte) { f(soft, data) }

// AverageCombiner replaces each overlapping soft byte with the truncated
// mean of the old and new byte. Bytes past the shorter length are untouched.
type AverageCombiner struct{}

func (AverageCombiner) Combine(soft, data []byte) {
	n := len(soft)
	if len(data) < n {
		n = len(data)
	}
	for i := 0; i < n; i++ {
		soft[i] = byte((uint16(soft[i]) + uint16(data[i])) / 2)
	}
}
