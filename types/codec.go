package types

import (
	amino "github.com/tendermint/go-amino"
)

// RegisterTypes registers the interface-valued notarization types with cdc
// under stable names. Packages that encode these types for the wire or the
// store call this on their own codec.
func RegisterTypes(cdc *amino.Codec) {
	cdc.RegisterInterface((*ClaimQuery)(nil), nil)
	cdc.RegisterConcrete(&TxExists{}, "notary/TxExists", nil)
	cdc.RegisterConcrete(&ReturnDataAt{}, "notary/ReturnDataAt", nil)
}
