package artifacts

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZerkerEOD/krakenwifi/internal/hashcat"
	"github.com/ZerkerEOD/krakenwifi/internal/models"
	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

const (
	CapturesDir  = "captures"
	WordlistsDir = "wordlists"
	RulesDir     = "rules"
)

var (
	// ErrArtifactNotFound is returned when a referenced file does not exist
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrNoMatchingCapture is returned when a capture holds nothing for the requested networks
	ErrNoMatchingCapture = errors.New("no capture lines for requested networks")
)

// captures the tool reads as-is
var binaryCaptureExts = map[string]bool{
	".hccapx": true,
}

// Resolver maps artifact references to local files and prepares per-job working directories.
// Layout under DataDir: captures/, wordlists/, rules/.
type Resolver struct {
	dataDir string
	workDir string
}

func NewResolver(dataDir, workDir string) *Resolver {
	if workDir == "" {
		workDir = filepath.Join(dataDir, "jobs")
	}
	return &Resolver{dataDir: dataDir, workDir: workDir}
}

// EnsureDirs creates the artifact and work directories
func (r *Resolver) EnsureDirs() error {
	for _, dir := range []string{
		filepath.Join(r.dataDir, CapturesDir),
		filepath.Join(r.dataDir, WordlistsDir),
		filepath.Join(r.dataDir, RulesDir),
		r.workDir,
	} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// WorkDir is the working directory of a job. Job ids are validated before they get here.
func (r *Resolver) WorkDir(jobID string) string {
	return filepath.Join(r.workDir, jobID)
}

// Resolve returns the local path of a reference inside one of the artifact directories
func (r *Resolver) Resolve(kind, ref string) (string, error) {
	base := filepath.Join(r.dataDir, kind)
	path := filepath.Join(base, filepath.FromSlash(ref))
	if rel, err := filepath.Rel(base, path); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s reference %q escapes %s", kind, ref, base)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, kind, ref)
		}
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s/%s is a directory", ErrArtifactNotFound, kind, ref)
	}
	return path, nil
}

// Prepare creates the job's working directory, links its dictionaries and rules into it and
// writes the capture narrowed to the requested networks.
func (r *Resolver) Prepare(req models.AttackRequest) (hashcat.Layout, error) {
	dir := r.WorkDir(req.JobID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return hashcat.Layout{}, fmt.Errorf("failed to create work dir: %w", err)
	}

	layout := hashcat.Layout{WorkDir: dir}

	capture, err := r.prepareCapture(req, dir)
	if err != nil {
		return hashcat.Layout{}, err
	}
	layout.CapturePath = capture

	dicts, rules := req.ArtifactRefs()
	for i, ref := range dicts {
		linked, err := r.link(WordlistsDir, ref, dir, i)
		if err != nil {
			return hashcat.Layout{}, err
		}
		layout.Dictionaries = append(layout.Dictionaries, linked)
	}
	for i, ref := range rules {
		linked, err := r.link(RulesDir, ref, dir, i)
		if err != nil {
			return hashcat.Layout{}, err
		}
		layout.Rules = append(layout.Rules, linked)
	}

	debug.Debug("prepared work dir %s for job %s (%d dictionaries, %d rules)",
		dir, req.JobID, len(layout.Dictionaries), len(layout.Rules))
	return layout, nil
}

// link symlinks an artifact into the work dir under an index-prefixed name so two refs with
// the same base name cannot collide
func (r *Resolver) link(kind, ref, dir string, index int) (string, error) {
	src, err := r.Resolve(kind, ref)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, fmt.Sprintf("%s-%02d-%s", kind, index, filepath.Base(src)))
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to replace %s: %w", dst, err)
	}
	if err := os.Symlink(src, dst); err != nil {
		return "", fmt.Errorf("failed to link %s: %w", ref, err)
	}
	return dst, nil
}

func (r *Resolver) prepareCapture(req models.AttackRequest, dir string) (string, error) {
	src, err := r.Resolve(CapturesDir, req.Capture)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(src))
	if binaryCaptureExts[ext] {
		dst := filepath.Join(dir, "capture"+ext)
		if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to replace %s: %w", dst, err)
		}
		if err := os.Symlink(src, dst); err != nil {
			return "", fmt.Errorf("failed to link capture: %w", err)
		}
		return dst, nil
	}

	dst := filepath.Join(dir, captureName(req.TargetOrDefault()))
	kept, err := filterCapture(src, dst, req.Networks)
	if err != nil {
		return "", err
	}
	if kept == 0 {
		os.Remove(dst)
		return "", fmt.Errorf("%w in %s", ErrNoMatchingCapture, req.Capture)
	}
	debug.Debug("capture %s: kept %d line(s) for %d network(s)", req.Capture, kept, len(req.Networks))
	return dst, nil
}

func captureName(target models.TargetKind) string {
	switch target {
	case models.TargetPMKID:
		return "capture.16800"
	case models.TargetHandshake:
		return "capture.2500"
	}
	return "capture.hc22000"
}

// filterCapture copies the lines of a text capture whose AP MAC is one of networks
func filterCapture(src, dst string, networks []string) (int, error) {
	want := make(map[string]bool, len(networks))
	for _, n := range networks {
		if b := hashcat.NormalizeBSSID(n); b != "" {
			want[b] = true
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open capture: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return 0, fmt.Errorf("failed to create job capture: %w", err)
	}
	w := bufio.NewWriter(out)

	kept := 0
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !want[CaptureLineAP(line)] {
			continue
		}
		w.WriteString(line)
		w.WriteByte('\n')
		kept++
	}
	if err := scanner.Err(); err != nil {
		out.Close()
		return 0, fmt.Errorf("failed to read capture: %w", err)
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return 0, fmt.Errorf("failed to write job capture: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to write job capture: %w", err)
	}
	return kept, nil
}

// CaptureLineAP returns the normalized AP MAC of an hc22000 (WPA*01*/WPA*02*) or legacy
// PMKID line, or "" when the line is neither
func CaptureLineAP(line string) string {
	fields := strings.Split(line, "*")
	switch {
	case len(fields) >= 4 && fields[0] == "WPA" && (fields[1] == "01" || fields[1] == "02"):
		return hashcat.NormalizeBSSID(fields[3])
	case len(fields) >= 4 && len(fields[0]) == 32:
		return hashcat.NormalizeBSSID(fields[1])
	}
	return ""
}
