package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

var (
	escrowPrefix   = []byte("feevault/escrow/")
	referrerPrefix = []byte("feevault/referrer/")
	accountPrefix  = []byte("feevault/account/")
)

func escrowKey(id [32]byte) []byte {
	buf := make([]byte, len(escrowPrefix)+len(id))
	copy(buf, escrowPrefix)
	copy(buf[len(escrowPrefix):], id[:])
	return buf
}

func referrerKey(addr [20]byte) []byte {
	buf := make([]byte, len(referrerPrefix)+len(addr))
	copy(buf, referrerPrefix)
	copy(buf[len(referrerPrefix):], addr[:])
	return buf
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return buf
}

// moduleAddress derives a stable custody address from a label. The address
// has no known private key, so funds parked under it can only move through
// module logic.
func moduleAddress(label string) [20]byte {
	hash := ethcrypto.Keccak256([]byte(label))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}
