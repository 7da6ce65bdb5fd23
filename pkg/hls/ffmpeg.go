package hls

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	errs "twdl/pkg/errors"
	"twdl/pkg/logger"
)

// FFmpeg invokes the external encoder for lossless stream-copy remuxing.
// Absence of the binary is not an error: callers degrade to delivering
// the raw transport stream.
type FFmpeg struct {
	Binary  string
	Timeout time.Duration
	logger  logger.Logger
}

// NewFFmpeg creates an ffmpeg wrapper
func NewFFmpeg(binary string, timeout time.Duration, log logger.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &FFmpeg{
		Binary:  binary,
		Timeout: timeout,
		logger:  log,
	}
}

// Available reports whether the encoder binary can be found on the host
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.Binary)
	return err == nil
}

// Remux repackages a transport stream into the output container without
// re-encoding, under the configured timeout.
func (f *FFmpeg) Remux(ctx context.Context, input, output string) error {
	args := []string{
		"-y",
		"-i", input,
		"-c", "copy",
		output,
	}
	return f.run(ctx, args, output)
}

// RemuxFromManifest hands the manifest URL straight to ffmpeg, which
// performs the whole fetch-and-remux in one call. Request headers are
// passed through so the origin authorizes the segment fetches.
func (f *FFmpeg) RemuxFromManifest(ctx context.Context, manifestURL string, headers map[string]string, output string) error {
	args := []string{"-y"}

	if len(headers) > 0 {
		var sb strings.Builder
		for key, value := range headers {
			if value == "" {
				continue
			}
			fmt.Fprintf(&sb, "%s: %s\r\n", key, value)
		}
		if sb.Len() > 0 {
			args = append(args, "-headers", sb.String())
		}
	}

	args = append(args,
		"-i", manifestURL,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		output,
	)
	return f.run(ctx, args, output)
}

// run executes ffmpeg and verifies it produced a non-empty output file
func (f *FFmpeg) run(ctx context.Context, args []string, output string) error {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, f.Binary, args...)
	combined, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return errs.New(errs.ErrorTypeRemux, 0, "ffmpeg timed out after %s", f.Timeout)
	}
	if err != nil {
		return errs.New(errs.ErrorTypeRemux, 0, "ffmpeg failed: %v: %s", err, tail(combined, 400))
	}

	info, statErr := os.Stat(output)
	if statErr != nil || info.Size() == 0 {
		return errs.New(errs.ErrorTypeRemux, 0, "ffmpeg produced no output file")
	}

	f.logger.DebugWithFields("ffmpeg finished", map[string]interface{}{
		"output":   output,
		"size":     info.Size(),
		"duration": time.Since(start),
	})
	return nil
}

// tail returns the last n bytes of subprocess output for error messages
func tail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
