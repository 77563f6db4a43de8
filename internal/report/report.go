package report

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/AlcorQi/kango/internal/logger"
	"github.com/AlcorQi/kango/internal/storage"
)

const (
	// fetchTimeout bounds the remote artifact fetch.
	fetchTimeout = 10 * time.Second
	// generateTimeout bounds the external generator command.
	generateTimeout = 60 * time.Second
	// cacheTTLSec is the suggested client-side cache lifetime.
	cacheTTLSec = 600
)

// placeholder is served when no analysis artifact exists yet.
const placeholder = "No analysis report has been generated yet."

// Service surfaces the analysis-report artifact produced out of band. The
// artifact is fetched from a remote URL when LLM_REPORT_URL is set, read
// from the local report file otherwise, and replaced with a placeholder
// when neither exists.
type Service struct {
	path   string // local artifact location
	genCmd string // external generator command, empty disables generation
	log    logger.Logger
	client *http.Client
}

func NewService(dataDir, genCmd string, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		path:   filepath.Join(dataDir, "analysis_report.md"),
		genCmd: genCmd,
		log:    log,
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// Path returns the local artifact location.
func (s *Service) Path() string { return s.path }

// Suggestions is the artifact response shape.
type Suggestions struct {
	Items       []string `json:"items"`
	GeneratedAt string   `json:"generated_at"`
	CacheTTLSec int      `json:"cache_ttl_sec"`
}

// Fetch returns the current artifact split into items.
func (s *Service) Fetch(ctx context.Context) *Suggestions {
	text, generatedAt := s.artifact(ctx)
	return &Suggestions{
		Items:       splitItems(text),
		GeneratedAt: generatedAt,
		CacheTTLSec: cacheTTLSec,
	}
}

func (s *Service) artifact(ctx context.Context) (text, generatedAt string) {
	if url := os.Getenv("LLM_REPORT_URL"); url != "" {
		if body, ok := s.fetchRemote(ctx, url); ok {
			return body, storage.NowUTC()
		}
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return placeholder, ""
	}
	if info, err := os.Stat(s.path); err == nil {
		generatedAt = info.ModTime().UTC().Format(storage.TimeLayout)
	}
	return string(raw), generatedAt
}

func (s *Service) fetchRemote(ctx context.Context, url string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.WithField("url", url).Warn("remote report fetch failed, falling back to local file")
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", false
	}
	return string(body), true
}

// splitItems breaks the markdown artifact into display items: top-level
// bullet points when present, paragraph blocks otherwise.
func splitItems(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}
	var bullets []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			bullets = append(bullets, strings.TrimSpace(trimmed[2:]))
		}
	}
	if len(bullets) > 0 {
		return bullets
	}
	var items []string
	for _, block := range strings.Split(text, "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			items = append(items, block)
		}
	}
	return items
}

// GenerateResult reports the outcome of running the external generator.
type GenerateResult struct {
	Status     string `json:"status"`
	Generated  bool   `json:"generated"`
	ReturnCode int    `json:"returncode"`
	UpdatedAt  string `json:"updated_at,omitempty"`
	ReportPath string `json:"report_path"`
}

// Generate runs the configured external generator command and reports its
// outcome. The command is expected to write the artifact to Path().
func (s *Service) Generate(ctx context.Context) (*GenerateResult, error) {
	if s.genCmd == "" {
		return nil, fmt.Errorf("no report generator configured")
	}
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", s.genCmd)
	cmd.Env = append(os.Environ(), "REPORT_PATH="+s.path)
	err := cmd.Run()

	res := &GenerateResult{Status: "success", ReportPath: s.path}
	if err != nil {
		res.Status = "error"
		if exit, ok := err.(*exec.ExitError); ok {
			res.ReturnCode = exit.ExitCode()
		} else {
			res.ReturnCode = -1
		}
		return res, nil
	}
	res.Generated = true
	if info, statErr := os.Stat(s.path); statErr == nil {
		res.UpdatedAt = info.ModTime().UTC().Format(storage.TimeLayout)
	}
	return res, nil
}
