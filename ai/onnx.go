package ai

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"guardian/internal/logger"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	onnxMu          sync.Mutex
	onnxInitialized bool
)

// onnxSearchPaths стандартные места поиска разделяемой библиотеки ONNX Runtime
func onnxSearchPaths() []string {
	exe, _ := os.Executable()
	exeDir := filepath.Dir(exe)

	switch runtime.GOOS {
	case "darwin":
		return []string{
			filepath.Join(exeDir, "../Resources/libonnxruntime.dylib"),
			filepath.Join(exeDir, "libonnxruntime.dylib"),
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{
			filepath.Join(exeDir, "onnxruntime.dll"),
			"onnxruntime.dll",
		}
	default:
		return []string{
			filepath.Join(exeDir, "libonnxruntime.so"),
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		}
	}
}

// InitONNXRuntime загружает ONNX Runtime один раз на процесс.
// libPath может быть пустым: тогда используется ONNXRUNTIME_SHARED_LIBRARY_PATH или поиск.
func InitONNXRuntime(libPath string) error {
	onnxMu.Lock()
	defer onnxMu.Unlock()

	if onnxInitialized {
		return nil
	}

	log := logger.Named("onnx")

	if libPath == "" {
		libPath = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	if libPath == "" {
		for _, p := range onnxSearchPaths() {
			if _, err := os.Stat(p); err == nil {
				libPath = p
				break
			}
		}
	}
	if libPath == "" {
		return fmt.Errorf("ONNX Runtime library not found")
	}

	log.Info().Str("path", libPath).Msg("using ONNX Runtime library")
	ort.SetSharedLibraryPath(libPath)

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize ONNX Runtime: %w", err)
	}
	onnxInitialized = true
	return nil
}
