package core

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

const GenesisHashSeed = "SynthLedger:genesis:v1"

// StateHasher chains state hashes across applied commands
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with the genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: GenesisHash()}
}

// GenesisHash is keccak256 of the genesis seed.
func GenesisHash() [32]byte {
	return crypto.Keccak256Hash([]byte(GenesisHashSeed))
}

// ComputeHash calculates state_hash[N] = keccak256(prev_hash || sequence_le || state_digest)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))

	hash := crypto.Keccak256Hash(h.prevHash[:], seqBuf[:], stateDigest)
	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the tip, used when restoring from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
