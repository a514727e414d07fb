package ticketing

import (
	"crypto/sha256"
	"encoding/hex"
)

// BuildMerkleTree computes a Merkle root and per-leaf proof paths over a
// set of hex-encoded leaf hashes ("Merkle batcher"). Pairs of
// nodes are combined as SHA-256(left || right); an odd node at any level
// is paired with a duplicate of itself. Proof paths are ordered
// leaf-to-root and pair with VerifyMerkleProof, which needs the leaf's
// original index to know, at each level, whether it was the left or right
// child.
func BuildMerkleTree(leafHashes []string) (root string, proofs [][]string) {
	if len(leafHashes) == 0 {
		return "", nil
	}

	level := make([][]byte, len(leafHashes))
	for i, h := range leafHashes {
		b, _ := hex.DecodeString(h)
		level[i] = b
	}

	proofs = make([][]string, len(leafHashes))
	// indices[leaf] tracks which node in the current level descends from
	// that leaf, so we know which sibling to record for it.
	indices := make([]int, len(leafHashes))
	for i := range indices {
		indices[i] = i
	}

	for len(level) > 1 {
		nextLevel := make([][]byte, 0, (len(level)+1)/2)
		nextIndices := make([]int, len(indices))

		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			parentIdx := len(nextLevel)
			nextLevel = append(nextLevel, combine(left, right))

			for leaf, idx := range indices {
				switch idx {
				case i:
					proofs[leaf] = append(proofs[leaf], hex.EncodeToString(right))
					nextIndices[leaf] = parentIdx
				case i + 1:
					proofs[leaf] = append(proofs[leaf], hex.EncodeToString(left))
					nextIndices[leaf] = parentIdx
				}
			}
		}

		level = nextLevel
		indices = nextIndices
	}

	return hex.EncodeToString(level[0]), proofs
}

func combine(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// VerifyMerkleProof recomputes the root from a leaf hash, its original
// index within the batch, and its sibling path, reporting whether it
// matches the expected root. The leaf's index parity at each level
// determines whether it was the left or right operand when its parent
// hash was computed.
func VerifyMerkleProof(leafHash string, leafIndex int, path []string, expectedRoot string) bool {
	current, err := hex.DecodeString(leafHash)
	if err != nil {
		return false
	}

	idx := leafIndex
	for _, siblingHex := range path {
		sibling, err := hex.DecodeString(siblingHex)
		if err != nil {
			return false
		}
		if idx%2 == 0 {
			current = combine(current, sibling)
		} else {
			current = combine(sibling, current)
		}
		idx /= 2
	}

	return hex.EncodeToString(current) == expectedRoot
}
