package digest

import (
	"crypto/sha3"
	"hash"
)

func newSHA3_256() hash.Hash { return sha3.New256() }
func newSHA3_512() hash.Hash { return sha3.New512() }
