package hmac

import "io"

func (tm *TokenManager) SetRand(r io.Reader) { tm.rand = r }
