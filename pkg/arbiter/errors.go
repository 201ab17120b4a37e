package arbiter

import "errors"

// ErrCapacityDenied: все слоты редакторов заняты, запросивший остаётся зрителем
var ErrCapacityDenied = errors.New("editor capacity reached")
