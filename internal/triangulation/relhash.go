// Package triangulation implements the cognitive-triangulation core:
// relationship-hash derivation, evidence-bundle accumulation, and the
// deterministic confidence-aggregation algorithm described in spec.md
// §4.6. The reconciliation algorithm is a pure function with no I/O so it
// can be property-tested exhaustively (spec.md §8).
package triangulation

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cogtri/pipeline/internal/model"
)

// RelHash derives the stable relationship hash from (source qualified
// name, target qualified name, type). Per invariant I2, identical
// candidates emitted by different passes must produce the same hash;
// the hash is therefore a pure function of these three fields alone —
// never of raw-confidence, explanation, or originating pass.
func RelHash(sourceQN, targetQN string, relType model.RelationshipType) string {
	h := sha256.New()
	h.Write([]byte(sourceQN))
	h.Write([]byte{0})
	h.Write([]byte(targetQN))
	h.Write([]byte{0})
	h.Write([]byte(relType))
	return hex.EncodeToString(h.Sum(nil))
}
