package rbc

// Ctrbc is the Cachin-Tessaro-style reliable broadcast variant: identical
// wire format and threshold table to AddRBC (the same Bracha/ctrbc message
// family); kept as its own named variant so "protocol=ctrbc" in
// configuration selects the same logic under its own metrics/log name.
func NewCtrbc() RbcVariant {
	return &brachaVariant{name: "ctrbc", extended: false}
}
