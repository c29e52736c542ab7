//go:build !windows

package api

import (
	"net"

	perr "guardian/internal/errors"
)

func listenPipe(addr string) (net.Listener, error) {
	return nil, perr.InvalidArgf("named pipes are supported only on Windows (requested %s)", addr)
}
