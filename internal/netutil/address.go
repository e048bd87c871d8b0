// Package netutil holds small address-formatting helpers shared by the
// fabric's dial logic.
package netutil

import (
	"fmt"
	"strings"
)

// JoinAddress builds a "host:port" dial target from host and port. If port
// is zero, host is returned unchanged (already a full address, or a bare
// host the caller dials with its own default port).
func JoinAddress(host string, port int) (addr string) {
	if host == "" {
		return
	}
	hostParts := strings.Split(host, ":")
	if port > 0 {
		addr = fmt.Sprintf("%s:%d", hostParts[0], port)
		return
	}
	addr = host
	return
}
