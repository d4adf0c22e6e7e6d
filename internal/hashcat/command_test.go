package hashcat

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZerkerEOD/krakenwifi/internal/models"
)

func dictionaryRequest() models.AttackRequest {
	return models.AttackRequest{
		JobID:    "job-1",
		Name:     "office-wifi",
		Capture:  "office.hc22000",
		Networks: []string{"AA:BB:CC:DD:EE:FF", "11:22:33:44:55:66"},
		Mode:     models.DictionaryAttack{Dictionaries: []string{"wordlist.txt"}},
	}
}

func testLayout(dicts, rules []string) Layout {
	return Layout{
		WorkDir:      "/work/job-1",
		CapturePath:  "/work/job-1/capture.hc22000",
		Dictionaries: dicts,
		Rules:        rules,
	}
}

// flagValue returns the argument following flag, or "" if flag is absent
func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestBuildDictionaryAttack(t *testing.T) {
	inv, err := Build(dictionaryRequest(), testLayout([]string{"/data/wordlists/wordlist.txt"}, nil), Options{DefaultWorkload: 3, StatusTimer: 10})
	require.NoError(t, err)

	assert.Equal(t, "0", flagValue(inv.Args, "-a"))
	assert.Equal(t, "22000", flagValue(inv.Args, "-m"))
	for _, a := range inv.Args {
		assert.NotContains(t, a, "?", "no mask in a dictionary attack")
	}
	assert.Equal(t, "10", flagValue(inv.Args, "--status-timer"))
	assert.Equal(t, "3", flagValue(inv.Args, "-w"))
	assert.Equal(t, "kw-job-1", flagValue(inv.Args, "--session"))
	assert.Equal(t, filepath.Join("/work/job-1", OutputFileName), flagValue(inv.Args, "--outfile"))
	assert.Contains(t, inv.Args, "--status-json")
	assert.Contains(t, inv.Args, "--potfile-disable")

	// positional arguments come last: capture then dictionary
	n := len(inv.Args)
	assert.Equal(t, "/work/job-1/capture.hc22000", inv.Args[n-2])
	assert.Equal(t, "/data/wordlists/wordlist.txt", inv.Args[n-1])
	assert.Equal(t, "/work/job-1", inv.WorkDir)
}

func TestBuildDictionaryWithRulesAndHints(t *testing.T) {
	req := dictionaryRequest()
	req.Mode = models.DictionaryAttack{Dictionaries: []string{"a.txt"}, Rules: []string{"best64.rule"}}
	req.Hints = models.ResourceHints{Workload: 4, Devices: []int{1, 2}, TimeBudgetSeconds: 600}

	inv, err := Build(req, testLayout([]string{"/d/a.txt"}, []string{"/r/best64.rule"}), Options{DefaultWorkload: 2})
	require.NoError(t, err)

	assert.Equal(t, "/r/best64.rule", flagValue(inv.Args, "-r"))
	assert.Equal(t, "4", flagValue(inv.Args, "-w"))
	assert.Equal(t, "1,2", flagValue(inv.Args, "-d"))
	assert.Equal(t, "600", flagValue(inv.Args, "--runtime"))
}

func TestBuildMaskAndHybrid(t *testing.T) {
	req := dictionaryRequest()
	req.Mode = models.MaskAttack{Mask: "?1?d?d?d?d?d?d?d", CustomCharsets: []string{"?l?u"}}
	req.Target = models.TargetPMKID

	inv, err := Build(req, testLayout(nil, nil), Options{})
	require.NoError(t, err)
	assert.Equal(t, "3", flagValue(inv.Args, "-a"))
	assert.Equal(t, "16800", flagValue(inv.Args, "-m"))
	assert.Equal(t, "?l?u", flagValue(inv.Args, "-1"))
	assert.Equal(t, "?1?d?d?d?d?d?d?d", inv.Args[len(inv.Args)-1])

	req.Mode = models.HybridAttack{Dictionary: "names.txt", Mask: "?d?d?d?d"}
	req.Target = models.TargetHandshake
	inv, err = Build(req, testLayout([]string{"/d/names.txt"}, nil), Options{})
	require.NoError(t, err)
	assert.Equal(t, "6", flagValue(inv.Args, "-a"))
	assert.Equal(t, "2500", flagValue(inv.Args, "-m"))
	assert.Equal(t, []string{"/work/job-1/capture.hc22000", "/d/names.txt", "?d?d?d?d"}, inv.Args[len(inv.Args)-3:])

	req.Mode = &models.HybridAttack{Dictionary: "names.txt", Mask: "?d?d?d?d", MaskFirst: true}
	inv, err = Build(req, testLayout([]string{"/d/names.txt"}, nil), Options{})
	require.NoError(t, err)
	assert.Equal(t, "7", flagValue(inv.Args, "-a"))
	assert.Equal(t, []string{"/work/job-1/capture.hc22000", "?d?d?d?d", "/d/names.txt"}, inv.Args[len(inv.Args)-3:])
}

func TestValidateReportsEveryViolation(t *testing.T) {
	req := models.AttackRequest{
		JobID:    "../escape",
		Name:     "a/b",
		Capture:  "../../etc/passwd",
		Networks: []string{"not-a-bssid"},
		Mode:     models.DictionaryAttack{},
		Hints:    models.ResourceHints{Workload: 9, Devices: []int{0}},
	}

	err := Validate(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidAttackParameters))

	var invalid *InvalidAttackParametersError
	require.True(t, errors.As(err, &invalid))
	assert.Len(t, invalid.Violations, 7)

	joined := strings.Join(invalid.Violations, "\n")
	assert.Contains(t, joined, "job id")
	assert.Contains(t, joined, "job name")
	assert.Contains(t, joined, "capture reference")
	assert.Contains(t, joined, "not a BSSID")
	assert.Contains(t, joined, "at least one dictionary")
	assert.Contains(t, joined, "workload")
	assert.Contains(t, joined, "device id")
}

func TestValidateRejectsEmptyDictionaryList(t *testing.T) {
	req := dictionaryRequest()
	req.Mode = models.DictionaryAttack{Dictionaries: nil}

	err := Validate(req)
	assert.ErrorIs(t, err, ErrInvalidAttackParameters)
	assert.Contains(t, err.Error(), "at least one dictionary")
}

func TestValidateMasks(t *testing.T) {
	tests := []struct {
		name    string
		mode    models.AttackMode
		wantErr string
	}{
		{"missing mode", nil, "attack mode is required"},
		{"empty mask", models.MaskAttack{}, "requires a mask"},
		{"dangling placeholder", models.MaskAttack{Mask: "abc?"}, "dangling"},
		{"unknown placeholder", models.MaskAttack{Mask: "?z?d"}, "unknown placeholder"},
		{"undefined custom charset", models.MaskAttack{Mask: "?2?d"}, "undefined custom charset"},
		{"option injection", models.MaskAttack{Mask: "--help"}, "must not start"},
		{"hybrid without dictionary", models.HybridAttack{Mask: "?d"}, "requires a dictionary"},
		{"traversal in dictionary", models.DictionaryAttack{Dictionaries: []string{"../secret"}}, "unsafe path"},
		{"nested too deep", models.DictionaryAttack{Dictionaries: []string{"a/b/c.txt"}}, "nested too deeply"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := dictionaryRequest()
			req.Mode = tt.mode
			err := Validate(req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAcceptsSubdirectoryRefs(t *testing.T) {
	req := dictionaryRequest()
	req.Mode = models.DictionaryAttack{Dictionaries: []string{"general/rockyou.txt"}, Rules: []string{"hashcat/best64.rule"}}
	assert.NoError(t, Validate(req))
}

func TestNormalizeBSSID(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeBSSID("aa:bb:cc:dd:ee:ff"))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeBSSID("aabbccddeeff"))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeBSSID("AA-BB-CC-DD-EE-FF"))
	assert.Equal(t, "", NormalizeBSSID("AA:BB:CC"))
	assert.Equal(t, "", NormalizeBSSID("GG:BB:CC:DD:EE:FF"))
}

func TestBuildRejectsMismatchedLayout(t *testing.T) {
	_, err := Build(dictionaryRequest(), testLayout(nil, nil), Options{})
	assert.ErrorIs(t, err, ErrInvalidAttackParameters)

	_, err = Build(dictionaryRequest(), Layout{}, Options{})
	assert.ErrorIs(t, err, ErrInvalidAttackParameters)
}

func TestValidateCaptureFormats(t *testing.T) {
	for _, ref := range []string{"air.cap", "air.pcap", "site/air.PCAPNG"} {
		req := dictionaryRequest()
		req.Capture = ref
		err := Validate(req)
		require.Error(t, err, ref)
		assert.Contains(t, err.Error(), "raw packet capture")
	}

	req := dictionaryRequest()
	req.Capture = "old.hccapx"
	assert.Error(t, Validate(req))

	req.Target = models.TargetHandshake
	assert.NoError(t, Validate(req))
}
