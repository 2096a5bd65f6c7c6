package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"vidscribe/internal/deps"
	"vidscribe/internal/fileutil"
	"vidscribe/internal/media"
	"vidscribe/internal/media/ffprobe"
	"vidscribe/internal/services"
	"vidscribe/internal/source"
	"vidscribe/internal/stage"
)

// Default command names.
const (
	DefaultBinary  = "yt-dlp"
	DefaultFormat  = "best[ext=mp4]/best"
	DefaultFFprobe = "ffprobe"
)

// CommandRunner executes a command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Config captures the binaries and format selector used by the fetcher.
type Config struct {
	Binary        string
	Format        string
	FFprobeBinary string
}

// Service fetches remote videos with yt-dlp and imports local files.
type Service struct {
	cfg   Config
	run   CommandRunner
	probe ffprobe.Runner
}

// NewService creates a fetcher with the given configuration.
func NewService(cfg Config) *Service {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = DefaultBinary
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = DefaultFormat
	}
	if strings.TrimSpace(cfg.FFprobeBinary) == "" {
		cfg.FFprobeBinary = DefaultFFprobe
	}
	return &Service{
		cfg: cfg,
		run: execRunner,
	}
}

// WithCommandRunner sets a custom yt-dlp runner (for testing).
func (s *Service) WithCommandRunner(runner CommandRunner) {
	if runner != nil {
		s.run = runner
	}
}

// WithProbeRunner sets a custom ffprobe runner (for testing).
func (s *Service) WithProbeRunner(runner ffprobe.Runner) {
	s.probe = runner
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return output, nil
}

// HealthCheck reports whether the binaries needed for fetching are installed.
func (s *Service) HealthCheck(context.Context) stage.Health {
	for _, req := range []deps.Requirement{
		{Name: "yt-dlp", Command: s.cfg.Binary},
		{Name: "ffprobe", Command: s.cfg.FFprobeBinary},
	} {
		if status := deps.CheckBinary(req); !status.Available {
			return stage.Unhealthy("fetch", status.Detail)
		}
	}
	return stage.Healthy("fetch")
}

// Fetch materializes the referenced media inside workDir.
func (s *Service) Fetch(ctx context.Context, ref source.Reference, workDir string) (media.Asset, error) {
	if strings.TrimSpace(workDir) == "" {
		return media.Asset{}, services.Wrap(services.ErrFetch, stage.Fetch, "prepare", "Work directory not provided", nil)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return media.Asset{}, services.Wrap(services.ErrFetch, stage.Fetch, "prepare", "Failed to create work directory", err)
	}
	if ref.IsLocal() {
		return s.importLocal(ctx, ref, workDir)
	}
	return s.download(ctx, ref, workDir)
}

// infoDump is the subset of the yt-dlp info JSON the fetcher consumes.
type infoDump struct {
	ID                 string  `json:"id"`
	Title              string  `json:"title"`
	Description        string  `json:"description"`
	Duration           float64 `json:"duration"`
	Uploader           string  `json:"uploader"`
	UploadDate         string  `json:"upload_date"`
	ViewCount          int64   `json:"view_count"`
	Thumbnail          string  `json:"thumbnail"`
	WebpageURL         string  `json:"webpage_url"`
	Filename           string  `json:"filename"`
	LegacyFilename     string  `json:"_filename"`
	Extractor          string  `json:"extractor"`
	RequestedDownloads []struct {
		Filepath string `json:"filepath"`
	} `json:"requested_downloads"`
}

func (s *Service) buildArgs(ref source.Reference, workDir string) []string {
	return []string{
		"--no-simulate",
		"--dump-single-json",
		"--no-playlist",
		"--no-progress",
		"-f", s.cfg.Format,
		"-o", filepath.Join(workDir, ref.ID+".%(ext)s"),
		ref.URL,
	}
}

func (s *Service) download(ctx context.Context, ref source.Reference, workDir string) (media.Asset, error) {
	output, err := s.run(ctx, s.cfg.Binary, s.buildArgs(ref, workDir)...)
	if err != nil {
		return media.Asset{}, services.Wrap(services.ErrFetch, stage.Fetch, "yt-dlp", "Download failed", err)
	}
	var info infoDump
	if err := json.Unmarshal(output, &info); err != nil {
		return media.Asset{}, services.Wrap(services.ErrFetch, stage.Fetch, "parse info", "yt-dlp returned invalid JSON", err)
	}
	var raw map[string]any
	_ = json.Unmarshal(output, &raw)

	path, err := resolveDownload(info, ref.ID, workDir)
	if err != nil {
		return media.Asset{}, err
	}
	url := info.WebpageURL
	if url == "" {
		url = ref.URL
	}
	return media.Asset{
		SourceID:        ref.ID,
		Path:            path,
		DurationSeconds: info.Duration,
		Title:           strings.TrimSpace(info.Title),
		Description:     info.Description,
		URL:             url,
		Uploader:        info.Uploader,
		UploadDate:      info.UploadDate,
		ViewCount:       info.ViewCount,
		Thumbnail:       info.Thumbnail,
		Raw:             compactRaw(raw),
	}, nil
}

// resolveDownload locates the file yt-dlp wrote, preferring the paths the
// info dump reports and falling back to the output template's prefix.
func resolveDownload(info infoDump, id, workDir string) (string, error) {
	candidates := make([]string, 0, 3)
	for _, d := range info.RequestedDownloads {
		candidates = append(candidates, d.Filepath)
	}
	candidates = append(candidates, info.Filename, info.LegacyFilename)
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if stat, err := os.Stat(candidate); err == nil && !stat.IsDir() {
			return candidate, nil
		}
	}
	matches, _ := filepath.Glob(filepath.Join(workDir, id+".*"))
	for _, match := range matches {
		if strings.HasSuffix(match, ".part") || strings.HasSuffix(match, ".ytdl") {
			continue
		}
		return match, nil
	}
	return "", services.Wrap(services.ErrFetch, stage.Fetch, "locate download",
		fmt.Sprintf("yt-dlp reported success but no file for %s exists in %s", id, workDir), nil)
}

// compactRaw keeps the scalar top-level fields of the info dump. Format and
// thumbnail lists are dropped so cached records stay small.
func compactRaw(raw map[string]any) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		switch value.(type) {
		case string, float64, bool:
			out[key] = value
		}
	}
	return out
}

func (s *Service) importLocal(ctx context.Context, ref source.Reference, workDir string) (media.Asset, error) {
	info, err := os.Stat(ref.Path)
	if err != nil {
		return media.Asset{}, services.Wrap(services.ErrFetch, stage.Fetch, "import local", fmt.Sprintf("Cannot read %s", ref.Path), err)
	}
	if info.IsDir() {
		return media.Asset{}, services.Wrap(services.ErrFetch, stage.Fetch, "import local", fmt.Sprintf("%s is a directory", ref.Path), nil)
	}
	dest := filepath.Join(workDir, ref.ID+strings.ToLower(filepath.Ext(ref.Path)))
	if err := fileutil.CopyFileVerified(ref.Path, dest); err != nil {
		return media.Asset{}, services.Wrap(services.ErrFetch, stage.Fetch, "import local", "Copy into work directory failed", err)
	}

	probe, err := ffprobe.InspectWith(ctx, s.probe, s.cfg.FFprobeBinary, dest)
	if err != nil {
		return media.Asset{}, services.Wrap(services.ErrFetch, stage.Fetch, "ffprobe", "Duration probe failed", err)
	}
	if probe.AudioStreamCount() == 0 {
		return media.Asset{}, services.Wrap(services.ErrFetch, stage.Fetch, "ffprobe",
			fmt.Sprintf("%s has no audio stream", ref.Path), nil)
	}
	duration := probe.DurationSeconds()
	if duration <= 0 || math.IsNaN(duration) {
		return media.Asset{}, services.Wrap(services.ErrFetch, stage.Fetch, "ffprobe",
			fmt.Sprintf("No duration reported for %s", ref.Path), nil)
	}
	title := probe.Title()
	if title == "" {
		title = titleFromStem(ref.Path)
	}
	return media.Asset{
		SourceID:        ref.ID,
		Path:            dest,
		DurationSeconds: duration,
		Title:           title,
		Local:           true,
	}, nil
}

func titleFromStem(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(stem)
	return cases.Title(language.English).String(strings.Join(strings.Fields(stem), " "))
}
