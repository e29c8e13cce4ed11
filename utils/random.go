package utils

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
)

// GenerateCode returns an uppercase hex string of n random bytes.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// WeightedPick selects an index from the weight list, where the chance of
// index i is weights[i] / sum(weights). The draw uses crypto/rand so the
// outcome cannot be predicted or influenced by a client.
func WeightedPick(weights []int) (int, error) {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return 0, nil
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(total)))
	if err != nil {
		return 0, err
	}

	target := int(n.Int64())
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if target < w {
			return i, nil
		}
		target -= w
	}

	return len(weights) - 1, nil
}
