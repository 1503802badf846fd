package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/bnema/webmclip/internal/domain"
)

// Options selects the ffmpeg/ffprobe binaries. Explicit paths win; bundled
// mode looks under BinDir/<GOOS>/<GOARCH>/; otherwise PATH is searched.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	UseBundled  bool
	BinDir      string
}

func ResolveBinaries(opts Options) (ffmpegPath, ffprobePath string, err error) {
	ffmpegPath, err = resolveBinary("ffmpeg", opts.FFmpegPath, opts)
	if err != nil {
		return "", "", err
	}
	ffprobePath, err = resolveBinary("ffprobe", opts.FFprobePath, opts)
	if err != nil {
		return "", "", err
	}
	return ffmpegPath, ffprobePath, nil
}

func resolveBinary(name, explicit string, opts Options) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if opts.UseBundled {
		path := bundledPath(opts.BinDir, runtime.GOOS, runtime.GOARCH, name)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: no bundled %s for %s/%s at %s", domain.ErrEngineNotFound, name, runtime.GOOS, runtime.GOARCH, path)
		}
		return path, nil
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s not in PATH", domain.ErrEngineNotFound, name)
	}
	return path, nil
}

func bundledPath(binDir, goos, goarch, name string) string {
	if goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(binDir, goos, goarch, name)
}
