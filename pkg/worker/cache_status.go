package worker

import "fmt"

// CacheStatusHeader is added to every response the worker produces.
const CacheStatusHeader = "Cache-Status"

const cacheStatusName = "swcache"

// Forward reasons used in the Cache-Status header.
const (
	fwdBypass  = "bypass"   // not handled by a strategy
	fwdMethod  = "method"   // method is never served from a store
	fwdURIMiss = "uri-miss" // store had no entry
	fwdRequest = "request"  // network is always consulted first
)

// cacheStatus renders a Cache-Status member for one response.
type cacheStatus struct {
	hit       bool
	fwdReason string
	stored    bool
	detail    string
}

func (cs cacheStatus) String() string {
	status := cacheStatusName + "; hit"
	if !cs.hit {
		status = fmt.Sprintf("%s; fwd=%s", cacheStatusName, cs.fwdReason)
	}
	if cs.stored {
		status += "; stored"
	}
	if cs.detail != "" {
		status += "; detail=" + cs.detail
	}
	return status
}
