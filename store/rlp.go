package store

import "github.com/ethereum/go-ethereum/rlp"

func encodeRLP(val interface{}) []byte {
	b, err := rlp.EncodeToBytes(val)
	if err != nil {
		// Every type passed through this helper is RLP-encodable by
		// construction (geth header/body/receipt types, or a fixed-size
		// array); a failure here means a programming error, not bad input.
		panic(err)
	}
	return b
}

func decodeRLP(data []byte, out interface{}) error {
	return rlp.DecodeBytes(data, out)
}
