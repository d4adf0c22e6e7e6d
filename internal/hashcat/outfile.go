package hashcat

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// CrackedEntry is one record of the tool's output file
type CrackedEntry struct {
	Network   string
	ESSID     string
	Plaintext string
	Line      int
}

// OutfileWarning is a skipped record
type OutfileWarning struct {
	Line   int
	Reason string
}

func (w OutfileWarning) Error() string {
	return fmt.Sprintf("outfile line %d: %s", w.Line, w.Reason)
}

var (
	colonMACPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)
	bareMACPattern  = regexp.MustCompile(`^[0-9A-Fa-f]{12}$`)
	hexPattern      = regexp.MustCompile(`^[0-9A-Fa-f]+$`)
)

// ParseOutfile reads cracked records. Malformed records are skipped and reported.
// When skipPartial is set, a last line without a trailing newline is ignored because the
// tool may still be writing it.
func ParseOutfile(r io.Reader, skipPartial bool) ([]CrackedEntry, []OutfileWarning, error) {
	var entries []CrackedEntry
	var warnings []OutfileWarning

	reader := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		raw, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return entries, warnings, err
		}
		if raw == "" && err == io.EOF {
			break
		}
		lineNo++

		complete := strings.HasSuffix(raw, "\n")
		if !complete && skipPartial {
			break
		}

		line := strings.TrimRight(raw, "\r\n")
		if strings.TrimSpace(line) != "" {
			entry, perr := ParseOutfileLine(line)
			if perr != nil {
				warnings = append(warnings, OutfileWarning{Line: lineNo, Reason: perr.Error()})
			} else {
				entry.Line = lineNo
				entries = append(entries, entry)
			}
		}

		if err == io.EOF {
			break
		}
	}
	return entries, warnings, nil
}

// ParseOutfileLine accepts "BSSID:plain", hc22000 "mic:mac_ap:mac_sta:essid:plain" and
// legacy PMKID "pmkid*mac_ap*mac_sta*essid_hex:plain" records.
func ParseOutfileLine(line string) (CrackedEntry, error) {
	if len(line) > 18 && line[17] == ':' && colonMACPattern.MatchString(line[:17]) {
		return CrackedEntry{
			Network:   NormalizeBSSID(line[:17]),
			Plaintext: decodePlain(line[18:]),
		}, nil
	}

	head, rest, ok := strings.Cut(line, ":")
	if !ok {
		return CrackedEntry{}, fmt.Errorf("no field separator")
	}

	if strings.Contains(head, "*") {
		parts := strings.Split(head, "*")
		if len(parts) < 4 || !bareMACPattern.MatchString(parts[1]) {
			return CrackedEntry{}, fmt.Errorf("malformed PMKID hash")
		}
		essid := ""
		if b, err := hex.DecodeString(parts[3]); err == nil {
			essid = string(b)
		}
		if rest == "" {
			return CrackedEntry{}, fmt.Errorf("empty plaintext")
		}
		return CrackedEntry{
			Network:   NormalizeBSSID(parts[1]),
			ESSID:     essid,
			Plaintext: decodePlain(rest),
		}, nil
	}

	fields := strings.SplitN(line, ":", 5)
	if len(fields) != 5 {
		return CrackedEntry{}, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}
	if !hexPattern.MatchString(fields[0]) {
		return CrackedEntry{}, fmt.Errorf("hash field is not hex")
	}
	if !bareMACPattern.MatchString(fields[1]) || !bareMACPattern.MatchString(fields[2]) {
		return CrackedEntry{}, fmt.Errorf("malformed MAC address")
	}
	if fields[4] == "" {
		return CrackedEntry{}, fmt.Errorf("empty plaintext")
	}
	return CrackedEntry{
		Network:   NormalizeBSSID(fields[1]),
		ESSID:     decodePlain(fields[3]),
		Plaintext: decodePlain(fields[4]),
	}, nil
}

// decodePlain unwraps $HEX[...] fields, used for plaintexts and hc22000 ESSIDs
func decodePlain(s string) string {
	if strings.HasPrefix(s, "$HEX[") && strings.HasSuffix(s, "]") {
		if b, err := hex.DecodeString(s[5 : len(s)-1]); err == nil {
			return string(b)
		}
	}
	return s
}
