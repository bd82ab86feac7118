package api

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// jsonCodec позволяет использовать gRPC с JSON-пейлоадом вместо protobuf,
// чтобы переиспользовать структуру Message без генерации кодеков.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ControlServer описывает bidirectional stream, аналогичный WebSocket каналу.
type ControlServer interface {
	Stream(Control_StreamServer) error
}

type UnimplementedControlServer struct{}

func (UnimplementedControlServer) Stream(Control_StreamServer) error {
	return status.Errorf(codes.Unimplemented, "method Stream not implemented")
}

type Control_StreamServer interface {
	Send(*Message) error
	Recv() (*Message, error)
	grpc.ServerStream
}

type controlStreamServer struct {
	grpc.ServerStream
}

func (x *controlStreamServer) Send(m *Message) error {
	return x.ServerStream.SendMsg(m)
}

func (x *controlStreamServer) Recv() (*Message, error) {
	m := new(Message)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Control_Stream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ControlServer).Stream(&controlStreamServer{stream})
}

const controlStreamMethod = "/voxstream.Control/Stream"

var _Control_serviceDesc = grpc.ServiceDesc{
	ServiceName: "voxstream.Control",
	HandlerType: (*ControlServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       _Control_Stream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/api/control.proto",
}

func RegisterControlServer(s *grpc.Server, srv ControlServer) {
	s.RegisterService(&_Control_serviceDesc, srv)
}

// grpcClient подписчик событий поверх gRPC потока; Send не потокобезопасен
type grpcClient struct {
	mu     sync.Mutex
	stream Control_StreamServer
}

func (c *grpcClient) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Send(&msg)
}

func (c *grpcClient) close() {}

// Stream обслуживает один управляющий поток: команды клиента и рассылка событий
func (s *Server) Stream(stream Control_StreamServer) error {
	c := &grpcClient{stream: stream}
	s.addClient(c)
	defer s.removeClient(c)

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}
		s.processMessage(c, *msg)
	}
}

// newGRPCServer слушает addr и регистрирует Control
func (s *Server) newGRPCServer(addr string) (*grpc.Server, net.Listener, error) {
	lis, err := listenGRPC(addr)
	if err != nil {
		return nil, nil, err
	}
	server := grpc.NewServer(
		grpc.Creds(insecure.NewCredentials()),
		grpc.ForceServerCodec(jsonCodec{}),
	)
	RegisterControlServer(server, s)
	return server, lis, nil
}

func (s *Server) serveGRPC(server *grpc.Server, lis net.Listener) {
	logrus.WithField("addr", lis.Addr().String()).Info("gRPC listening")
	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		logrus.WithError(err).Warn("gRPC server stopped")
	}
}

// listenGRPC: unix:/путь или путь к сокету, npipe: или \\.\pipe\ для Windows,
// иначе TCP
func listenGRPC(addr string) (net.Listener, error) {
	switch {
	case strings.HasPrefix(addr, "npipe:"):
		return listenPipe(strings.TrimPrefix(addr, "npipe:"))
	case strings.HasPrefix(addr, `\\.\pipe\`):
		return listenPipe(addr)
	case strings.HasPrefix(addr, "unix:"):
		return listenUnix(strings.TrimPrefix(addr, "unix:"))
	case strings.HasPrefix(addr, "/") || strings.HasSuffix(addr, ".sock"):
		return listenUnix(addr)
	default:
		return net.Listen("tcp", addr)
	}
}

func listenUnix(socketPath string) (net.Listener, error) {
	if err := removeIfExists(socketPath); err != nil {
		return nil, err
	}
	return net.Listen("unix", socketPath)
}

func removeIfExists(path string) error {
	if path == "" {
		return errors.New("empty socket path")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
