package chain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// tokenIDBits bounds derived identifiers to 48 bits. Six bytes keeps every
// id exactly representable in a float64, which downstream consumers of the
// wire format rely on.
const tokenIDBits = 48

// DeriveTokenID packs the first six bytes of Keccak256(subject), big-endian,
// into a 48-bit identifier. Pure: the same subject always derives the same
// id, across processes and retries.
func DeriveTokenID(subject string) uint64 {
	sum := ethcrypto.Keccak256([]byte(subject))
	var id uint64
	for _, b := range sum[:tokenIDBits/8] {
		id = id<<8 | uint64(b)
	}
	return id
}

// timeTokenID returns a 48-bit identifier for subjects with no stable
// deterministic input, such as reputation mints.
func timeTokenID(now time.Time) uint64 {
	return uint64(now.UnixMilli()) & (1<<tokenIDBits - 1)
}

// stubTxHash synthesizes a placeholder transaction hash for stub mints.
func stubTxHash() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in much deeper trouble
		// than a mint; surface it loudly.
		panic(fmt.Sprintf("chain: read random: %v", err))
	}
	return "0x" + hex.EncodeToString(buf)
}
