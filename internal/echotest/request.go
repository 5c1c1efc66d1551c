package echotest

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/studiowebux/echotest/internal/iso8583"
)

// transmissionLayout formats field 7 as MMDDhhmmss.
const transmissionLayout = "0102150405"

// NewEchoRequest builds an 0800 echo test carrying fields 7, 11, 37 and 70.
// stan must be six digits and rrnPrefix six characters so field 37 is
// exactly twelve.
func NewEchoRequest(now time.Time, stan, rrnPrefix string) iso8583.Message {
	return iso8583.Message{
		MTI:                  iso8583.MTINetworkMgmtRequest,
		TransmissionDateTime: now.Format(transmissionLayout),
		STAN:                 stan,
		RRN:                  rrnPrefix + stan,
		NetworkMgmtCode:      iso8583.NetworkMgmtEchoTest,
	}
}

// RandomSTAN returns a random six digit trace number.
func RandomSTAN() string {
	return fmt.Sprintf("%06d", rand.IntN(1000000))
}
