package rooms

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"sync/atomic"
)

const (
	CodeLength  = 6
	CodeCharset = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	maxCodeAttempts = 100
)

// codeGen draws room codes from a cryptographically secure source. The
// fallback keeps a short random prefix and spends the last character on a
// counter, which is guessable but guarantees progress.
type codeGen struct {
	rand    io.Reader
	counter atomic.Uint64
}

func newCodeGen(r io.Reader) *codeGen {
	if r == nil {
		r = rand.Reader
	}
	return &codeGen{rand: r}
}

func (g *codeGen) random(n int) (string, error) {
	max := big.NewInt(int64(len(CodeCharset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(g.rand, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b[i] = CodeCharset[idx.Int64()]
	}
	return string(b), nil
}

// fallback returns a prefix plus disambiguator candidate.
func (g *codeGen) fallback(prefix string) string {
	n := g.counter.Add(1)
	return prefix + string(CodeCharset[n%uint64(len(CodeCharset))])
}
