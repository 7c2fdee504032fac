package scenario

// Mode selects how a run reacts to a failed expectation.
//
// Strict stops at the first failed expectation. Permissive records it and
// keeps going as long as later steps still have their inputs; the first
// failure is returned at the end either way.
type Mode int

const (
	Permissive Mode = iota
	Strict
)

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	default:
		return "permissive"
	}
}

// ParseMode accepts "" as Permissive.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "permissive":
		return Permissive, true
	case "strict":
		return Strict, true
	default:
		return Permissive, false
	}
}
