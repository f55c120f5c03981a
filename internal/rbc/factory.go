package rbc

import "fmt"

// NewVariant builds the RbcVariant named by the canonical protocol name
// (one of "addrbc", "ctrbc", "borbc", "ccbrb" — config.ValidProtocols
// resolves "rbc" to "addrbc" before this is called).
func NewVariant(name string) (RbcVariant, error) {
	switch name {
	case "addrbc":
		return NewAddRBC(), nil
	case "ctrbc":
		return NewCtrbc(), nil
	case "borbc":
		return NewBorbc(), nil
	case "ccbrb":
		return NewCcbrb(), nil
	default:
		return nil, fmt.Errorf("rbc: unknown variant %q", name)
	}
}
