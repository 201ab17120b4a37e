package crdt

// StateVector: для каждого клиента максимальный Seq, до которого включительно
// все его вставки уже интегрированы. Всегда описывает непрерывный префикс.
type StateVector map[string]uint64

func (sv StateVector) Get(client string) uint64 {
	return sv[client]
}

// Covers сообщает, учтена ли вставка с данным id
func (sv StateVector) Covers(id ID) bool {
	return id.Seq <= sv[id.Client]
}

// Advance продвигает счётчик клиента, но никогда не уменьшает его
func (sv StateVector) Advance(client string, seq uint64) {
	if sv[client] < seq {
		sv[client] = seq
	}
}

func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}
