//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func defaultGRPCAddr() string {
	return filepath.Join(os.TempDir(), "voxstream-grpc.sock")
}
