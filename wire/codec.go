package wire

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode is the canonical encoding used for every wire message. Canonical
// form keeps signatures over metadata stable across encoders.
var encMode cbor.EncMode

// decMode rejects malformed input outright rather than best-effort
// decoding peer-supplied bytes.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		IndefLength:       cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}
