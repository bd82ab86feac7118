//go:build windows

package api

import (
	"net"

	"github.com/Microsoft/go-winio"
)

const pipeBufferSize = 64 << 10

func listenPipe(addr string) (net.Listener, error) {
	return winio.ListenPipe(addr, &winio.PipeConfig{
		InputBufferSize:  pipeBufferSize,
		OutputBufferSize: pipeBufferSize,
	})
}
