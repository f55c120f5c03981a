package rbc

// AddRBC is the asynchronous distributed reliable broadcast variant: no
// VOTE phase, termination purely off Bracha's classic ECHO/READY thresholds
// (T5/T6). It shares every mechanic with Ctrbc; only the name differs, since
// both belong to the same Bracha/ctrbc message family.
func NewAddRBC() RbcVariant {
	return &brachaVariant{name: "addrbc", extended: false}
}
