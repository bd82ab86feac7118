//go:build windows

package config

func defaultGRPCAddr() string {
	return `\\.\pipe\voxstream-grpc`
}
