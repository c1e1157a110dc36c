package decode

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ffmpegEnvVars are checked in order before PATH, so a user can pin a
// specific build without touching their shell's PATH. FFMPEG_DIR is the
// Windows convention (a directory, joined with the binary name below);
// the other two are already a full path to the binary (spec.md §6).
var ffmpegEnvVars = []string{"DRMETER_FFMPEG_PATH", "FFMPEG_PATH"}

const ffmpegDirEnvVar = "FFMPEG_DIR"

// commandRunner abstracts "does this path respond to -version", swappable
// in tests so locate doesn't depend on a real ffmpeg binary being installed.
type commandRunner func(path string) bool

func realRunner(path string) bool {
	cmd := exec.Command(path, "-version")
	return cmd.Run() == nil
}

// locateFFmpeg finds a runnable ffmpeg binary: explicit env overrides (in
// order: DRMETER_FFMPEG_PATH, FFMPEG_PATH, FFMPEG_DIR), then PATH, then
// conventional install locations. Returns "" if none responds
// successfully to "-version".
func locateFFmpeg(run commandRunner) string {
	for _, env := range envOverrides("ffmpeg") {
		if run(env) {
			return env
		}
	}
	return locateBinary("ffmpeg", run)
}

// locateFFprobe finds ffprobe the same way, preferring the directory next
// to a located ffmpeg binary (so a pinned DRMETER_FFMPEG_PATH also pins
// which ffprobe gets used for probing). spec.md §6 names no dedicated
// ffprobe env var; it's always found "beside ffmpeg" or on PATH.
func locateFFprobe(run commandRunner) string {
	if ffmpegPath := locateFFmpeg(run); ffmpegPath != "" {
		dir := filepath.Dir(ffmpegPath)
		candidate := filepath.Join(dir, "ffprobe")
		if fileExists(candidate) && run(candidate) {
			return candidate
		}
	}
	return locateBinary("ffprobe", run)
}

func locateBinary(name string, run commandRunner) string {
	if run(name) {
		return name
	}

	for _, dir := range conventionalDirs() {
		candidate := filepath.Join(dir, name)
		if fileExists(candidate) && run(candidate) {
			return candidate
		}
	}
	return ""
}

// envOverrides returns the candidate binary paths from environment
// variables, in priority order, for the given binary name.
func envOverrides(name string) []string {
	var out []string
	for _, envVar := range ffmpegEnvVars {
		if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
			out = append(out, v)
		}
	}
	if dir := strings.TrimSpace(os.Getenv(ffmpegDirEnvVar)); dir != "" {
		out = append(out, filepath.Join(dir, name+".exe"), filepath.Join(dir, name))
	}
	return out
}

// conventionalDirs lists install locations package managers commonly use
// on Linux and macOS, tried after PATH comes up empty.
func conventionalDirs() []string {
	return []string{
		"/usr/bin",
		"/usr/local/bin",
		"/opt/homebrew/bin",
		"/snap/bin",
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
