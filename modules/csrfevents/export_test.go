package csrfevents

import "time"

func SetNow(p *Publisher, now func() time.Time) { p.now = now }
