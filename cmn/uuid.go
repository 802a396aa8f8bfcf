package cmn

import (
	"math/rand"
	"sync"

	"github.com/teris-io/shortid"
)

// Alphabet mirrors aistore's cmn.uuidABC: > 0x3f characters so GenTie's
// bit-masking stays in range.
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidMu sync.Mutex
	sid   *shortid.Shortid
)

// InitUUIDGen seeds the mutation/lease id generator. Called once at
// process startup; GenUUID falls back to a randomly seeded generator
// when it has not been.
func InitUUIDGen(seed uint64) {
	sidMu.Lock()
	sid = shortid.MustNew(4 /*worker*/, uuidABC, seed)
	sidMu.Unlock()
}

// GenUUID produces a short, human-readable id used for mutation records
// submitted to the consensus pipeline and for lease-transaction ids.
func GenUUID() string {
	sidMu.Lock()
	s := sid
	sidMu.Unlock()
	if s == nil {
		// fall back to an unseeded generator rather than panic: tests that
		// don't call InitUUIDGen still get unique (if less pretty) ids.
		s = shortid.MustNew(4, uuidABC, uint64(rand.Int63()))
	}
	uuid, err := s.Generate()
	if err != nil {
		// shortid.Generate only errors on its own internal mutex state;
		// treat as a programming error rather than propagating to callers
		// that expect GenUUID to always succeed.
		panic(err)
	}
	return uuid
}
