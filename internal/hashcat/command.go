package hashcat

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ZerkerEOD/krakenwifi/internal/models"
)

// Hash types understood by the tool for wireless captures
const (
	HashTypeWPA          = 22000
	HashTypeWPALegacy    = 2500
	HashTypePMKIDLegacy  = 16800
	OutputFileName       = "cracked.out"
	DefaultOutfileFormat = "1,2"
	sessionPrefix        = "kw-"
)

// Tool attack mode numbers
const (
	ModeStraight           = 0
	ModeBruteForce         = 3
	ModeHybridWordlistMask = 6
	ModeHybridMaskWordlist = 7
)

// ErrInvalidAttackParameters is matched by every validation failure
var ErrInvalidAttackParameters = errors.New("invalid attack parameters")

// InvalidAttackParametersError carries every violated constraint
type InvalidAttackParametersError struct {
	Violations []string
}

func (e *InvalidAttackParametersError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidAttackParameters, strings.Join(e.Violations, "; "))
}

func (e *InvalidAttackParametersError) Is(target error) bool {
	return target == ErrInvalidAttackParameters
}

// Layout is the resolved on-disk layout of a single job
type Layout struct {
	WorkDir      string
	CapturePath  string
	Dictionaries []string
	Rules        []string
}

// Options are process-wide defaults applied when a request leaves a hint unset
type Options struct {
	DefaultWorkload int
	StatusTimer     int
}

// Invocation is everything needed to spawn the tool for one job
type Invocation struct {
	Args        []string
	WorkDir     string
	CapturePath string
	OutputPath  string
	SessionName string
}

var (
	safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	bssidPattern    = regexp.MustCompile(`^[0-9A-Fa-f]{2}([:-]?[0-9A-Fa-f]{2}){5}$`)
	maskCharsets    = "ludsabhH1234?"
)

// SessionName derives the tool session name from a job id
func SessionName(jobID string) string {
	return sessionPrefix + jobID
}

// NormalizeBSSID returns the upper-case colon separated form, or "" if s is not a BSSID
func NormalizeBSSID(s string) string {
	s = strings.TrimSpace(s)
	if !bssidPattern.MatchString(s) {
		return ""
	}
	hex := strings.NewReplacer(":", "", "-", "").Replace(s)
	if len(hex) != 12 {
		return ""
	}
	hex = strings.ToUpper(hex)
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, hex[i:i+2])
	}
	return strings.Join(parts, ":")
}

// Validate checks a request without touching the filesystem and reports every problem found.
func Validate(req models.AttackRequest) error {
	var v violations

	if req.JobID == "" {
		v.add("job id is required")
	} else {
		v.checkName("job id", req.JobID)
	}
	if req.Name != "" {
		v.checkName("job name", req.Name)
	}

	if req.Capture == "" {
		v.add("capture reference is required")
	} else {
		v.checkRef("capture", req.Capture)
	}

	switch req.TargetOrDefault() {
	case models.TargetHC22000, models.TargetHandshake, models.TargetPMKID:
		v.checkCaptureFormat(req.Capture, req.TargetOrDefault())
	default:
		v.add(fmt.Sprintf("unknown target %q", req.Target))
	}

	if len(req.Networks) == 0 {
		v.add("at least one target network is required")
	}
	seen := make(map[string]bool, len(req.Networks))
	for _, n := range req.Networks {
		norm := NormalizeBSSID(n)
		if norm == "" {
			v.add(fmt.Sprintf("network %q is not a BSSID", n))
			continue
		}
		if seen[norm] {
			v.add(fmt.Sprintf("network %s listed twice", norm))
		}
		seen[norm] = true
	}

	switch m := req.Mode.(type) {
	case nil:
		v.add("attack mode is required")
	case models.DictionaryAttack:
		v.checkDictionary(m)
	case *models.DictionaryAttack:
		v.checkDictionary(*m)
	case models.MaskAttack:
		v.checkMask(m)
	case *models.MaskAttack:
		v.checkMask(*m)
	case models.HybridAttack:
		v.checkHybrid(m)
	case *models.HybridAttack:
		v.checkHybrid(*m)
	default:
		v.add(fmt.Sprintf("unsupported attack mode %T", m))
	}

	h := req.Hints
	if h.Workload < 0 || h.Workload > 4 {
		v.add(fmt.Sprintf("workload profile %d out of range 1-4", h.Workload))
	}
	for _, d := range h.Devices {
		if d < 1 {
			v.add(fmt.Sprintf("device id %d must be positive", d))
		}
	}
	if h.TimeBudgetSeconds < 0 {
		v.add("time budget must not be negative")
	}
	if h.TimeoutSeconds < 0 {
		v.add("timeout must not be negative")
	}

	return v.err()
}

// raw packet captures have to go through hcxpcapngtool before the tool can load them
var packetCaptureExts = map[string]bool{
	".cap":    true,
	".pcap":   true,
	".pcapng": true,
}

func (v *violations) checkCaptureFormat(ref string, target models.TargetKind) {
	ext := strings.ToLower(filepath.Ext(ref))
	switch {
	case packetCaptureExts[ext]:
		v.add(fmt.Sprintf("capture %q is a raw packet capture; convert it to hc22000 first", ref))
	case ext == ".hccapx" && target != models.TargetHandshake:
		v.add(fmt.Sprintf("capture %q is hccapx, which only the %s target reads", ref, models.TargetHandshake))
	}
}

// Build validates req and maps it onto the tool command line for the given layout.
func Build(req models.AttackRequest, layout Layout, opts Options) (*Invocation, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	var v violations
	if layout.WorkDir == "" {
		v.add("work directory is required")
	}
	if layout.CapturePath == "" {
		v.add("capture path is required")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	inv := &Invocation{
		WorkDir:     layout.WorkDir,
		CapturePath: layout.CapturePath,
		OutputPath:  filepath.Join(layout.WorkDir, OutputFileName),
		SessionName: SessionName(req.JobID),
	}

	statusTimer := opts.StatusTimer
	if statusTimer <= 0 {
		statusTimer = 5
	}

	args := []string{
		"-m", strconv.Itoa(hashType(req.TargetOrDefault())),
		"-a", strconv.Itoa(attackModeNumber(req.Mode)),
		"--session", inv.SessionName,
		"--status",
		"--status-json",
		"--status-timer", strconv.Itoa(statusTimer),
		"--quiet",
		"--potfile-disable",
		"--restore-disable",
		"--outfile", inv.OutputPath,
		"--outfile-format", DefaultOutfileFormat,
	}

	workload := req.Hints.Workload
	if workload == 0 {
		workload = opts.DefaultWorkload
	}
	if workload > 0 {
		args = append(args, "-w", strconv.Itoa(workload))
	}
	if len(req.Hints.Devices) > 0 {
		ids := make([]string, len(req.Hints.Devices))
		for i, d := range req.Hints.Devices {
			ids[i] = strconv.Itoa(d)
		}
		args = append(args, "-d", strings.Join(ids, ","))
	}
	if req.Hints.TimeBudgetSeconds > 0 {
		args = append(args, "--runtime", strconv.Itoa(req.Hints.TimeBudgetSeconds))
	}

	switch m := deref(req.Mode).(type) {
	case models.DictionaryAttack:
		if len(layout.Dictionaries) != len(m.Dictionaries) {
			return nil, &InvalidAttackParametersError{Violations: []string{"resolved dictionaries do not match request"}}
		}
		if len(layout.Rules) != len(m.Rules) {
			return nil, &InvalidAttackParametersError{Violations: []string{"resolved rules do not match request"}}
		}
		for _, r := range layout.Rules {
			args = append(args, "-r", r)
		}
		args = append(args, layout.CapturePath)
		args = append(args, layout.Dictionaries...)

	case models.MaskAttack:
		for i, cs := range m.CustomCharsets {
			args = append(args, fmt.Sprintf("-%d", i+1), cs)
		}
		args = append(args, layout.CapturePath, m.Mask)

	case models.HybridAttack:
		if len(layout.Dictionaries) != 1 {
			return nil, &InvalidAttackParametersError{Violations: []string{"hybrid attack needs exactly one resolved dictionary"}}
		}
		if m.MaskFirst {
			args = append(args, layout.CapturePath, m.Mask, layout.Dictionaries[0])
		} else {
			args = append(args, layout.CapturePath, layout.Dictionaries[0], m.Mask)
		}
	}

	inv.Args = args
	return inv, nil
}

func hashType(t models.TargetKind) int {
	switch t {
	case models.TargetHandshake:
		return HashTypeWPALegacy
	case models.TargetPMKID:
		return HashTypePMKIDLegacy
	default:
		return HashTypeWPA
	}
}

func attackModeNumber(mode models.AttackMode) int {
	switch m := deref(mode).(type) {
	case models.MaskAttack:
		return ModeBruteForce
	case models.HybridAttack:
		if m.MaskFirst {
			return ModeHybridMaskWordlist
		}
		return ModeHybridWordlistMask
	default:
		return ModeStraight
	}
}

func deref(mode models.AttackMode) models.AttackMode {
	switch m := mode.(type) {
	case *models.DictionaryAttack:
		return *m
	case *models.MaskAttack:
		return *m
	case *models.HybridAttack:
		return *m
	}
	return mode
}

type violations struct {
	list []string
}

func (v *violations) add(msg string) {
	v.list = append(v.list, msg)
}

func (v *violations) err() error {
	if len(v.list) == 0 {
		return nil
	}
	return &InvalidAttackParametersError{Violations: v.list}
}

// checkName rejects anything that could escape a directory or break a session name
func (v *violations) checkName(field, name string) {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || !safeNamePattern.MatchString(name) {
		v.add(fmt.Sprintf("%s %q contains unsafe characters", field, name))
	}
}

// checkRef allows one level of sub-directory ("general/rockyou.txt") but no traversal
func (v *violations) checkRef(field, ref string) {
	if strings.Contains(ref, `\`) || strings.HasPrefix(ref, "/") {
		v.add(fmt.Sprintf("%s reference %q must be relative", field, ref))
		return
	}
	parts := strings.Split(ref, "/")
	if len(parts) > 2 {
		v.add(fmt.Sprintf("%s reference %q is nested too deeply", field, ref))
		return
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.Contains(p, "..") || !safeNamePattern.MatchString(p) {
			v.add(fmt.Sprintf("%s reference %q contains unsafe path elements", field, ref))
			return
		}
	}
}

func (v *violations) checkDictionary(m models.DictionaryAttack) {
	if len(m.Dictionaries) == 0 {
		v.add("dictionary attack requires at least one dictionary")
	}
	for _, d := range m.Dictionaries {
		if d == "" {
			v.add("dictionary reference must not be empty")
			continue
		}
		v.checkRef("dictionary", d)
	}
	for _, r := range m.Rules {
		if r == "" {
			v.add("rules reference must not be empty")
			continue
		}
		v.checkRef("rules", r)
	}
}

func (v *violations) checkMask(m models.MaskAttack) {
	if m.Mask == "" {
		v.add("mask attack requires a mask")
	} else {
		v.checkMaskTokens(m.Mask, len(m.CustomCharsets))
	}
	if len(m.CustomCharsets) > 4 {
		v.add(fmt.Sprintf("at most 4 custom charsets allowed, got %d", len(m.CustomCharsets)))
	}
	for i, cs := range m.CustomCharsets {
		if cs == "" {
			v.add(fmt.Sprintf("custom charset %d is empty", i+1))
		}
	}
}

func (v *violations) checkHybrid(m models.HybridAttack) {
	if m.Dictionary == "" {
		v.add("hybrid attack requires a dictionary")
	} else {
		v.checkRef("dictionary", m.Dictionary)
	}
	if m.Mask == "" {
		v.add("hybrid attack requires a mask")
	} else {
		v.checkMaskTokens(m.Mask, 0)
	}
}

func (v *violations) checkMaskTokens(mask string, customCharsets int) {
	if strings.HasPrefix(mask, "-") {
		v.add(fmt.Sprintf("mask %q must not start with '-'", mask))
	}
	for i := 0; i < len(mask); i++ {
		if mask[i] != '?' {
			continue
		}
		if i+1 >= len(mask) {
			v.add(fmt.Sprintf("mask %q ends with a dangling '?'", mask))
			return
		}
		c := mask[i+1]
		if !strings.ContainsRune(maskCharsets, rune(c)) {
			v.add(fmt.Sprintf("mask %q uses unknown placeholder ?%c", mask, c))
		} else if c >= '1' && c <= '4' && int(c-'0') > customCharsets {
			v.add(fmt.Sprintf("mask %q references undefined custom charset ?%c", mask, c))
		}
		i++
	}
}
