// Package cos: human-readable correlation suffixes for log lines. The
// wire-level identifiers used throughout the router (Address, Ident32)
// stay fixed-size cryptographic or random byte strings; shortid is only
// used to make log lines about sessions and subscriptions readable,
// adapted from the teacher's cmn/cos.GenUUID.
package cos

import (
	"sync"

	"github.com/teris-io/shortid"
)

const shortIDAlphabet = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
)

func initShortID() {
	sid = shortid.MustNew(4, shortIDAlphabet, 1)
}

// ShortID returns a short, log-friendly correlation tag. It is never used
// as a wire identifier, only as a display/debug suffix.
func ShortID() string {
	sidOnce.Do(initShortID)
	id, err := sid.Generate()
	if err != nil {
		return "????????"
	}
	return id
}
