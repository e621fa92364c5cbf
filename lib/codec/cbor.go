// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import "github.com/fxamacker/cbor/v2"

// maxArrayElements bounds the length of any single CBOR array. Rows
// for bag-of-words models can have hundreds of thousands of observed
// features, well past the library default of 131072.
const maxArrayElements = 1 << 24

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2). Same logical message always produces
// identical bytes, which keeps transcripts diffable.
var encMode cbor.EncMode

// decMode is the CBOR decoder. Unknown fields are ignored so that a
// newer server can add response fields; duplicate map keys are
// rejected because a message with two "score" keys has no meaning.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: maxArrayElements,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for
// data. The session logs this at debug level when a response violates
// the protocol, since the raw bytes are otherwise unreadable.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
