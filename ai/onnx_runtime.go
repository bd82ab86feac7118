package ai

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	onnxInitMu      sync.Mutex
	onnxInitialized bool
)

// onnxSearchPaths стандартные места поиска разделяемой библиотеки ONNX Runtime
func onnxSearchPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"../Resources/libonnxruntime.dylib",
			"./libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{"./onnxruntime.dll"}
	default:
		return []string{
			"./libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
		}
	}
}

// initONNXRuntime инициализирует окружение ONNX Runtime один раз на процесс.
// Путь к библиотеке берётся из ONNXRUNTIME_SHARED_LIBRARY_PATH или стандартных мест.
func initONNXRuntime() error {
	onnxInitMu.Lock()
	defer onnxInitMu.Unlock()

	if onnxInitialized {
		return nil
	}

	libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	if libPath == "" {
		for _, path := range onnxSearchPaths() {
			if _, err := os.Stat(path); err == nil {
				libPath = path
				break
			}
		}
	}
	if libPath == "" {
		return fmt.Errorf("ONNX Runtime library not found")
	}

	logrus.WithField("path", libPath).Info("using ONNX Runtime library")
	ort.SetSharedLibraryPath(libPath)

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize ONNX Runtime: %w", err)
	}

	onnxInitialized = true
	return nil
}
