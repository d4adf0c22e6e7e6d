package hashcat

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ZerkerEOD/krakenwifi/internal/models"
)

// Tool status codes reported in status output
const (
	StatusUnknown   = -1
	StatusRunning   = 3
	StatusPaused    = 4
	StatusExhausted = 5
	StatusCracked   = 6
	StatusAborted   = 7
	StatusQuit      = 8
	StatusRuntime   = 11
)

// Field marks which values a status record actually carried
type Field uint8

const (
	FieldPercent Field = 1 << iota
	FieldThroughput
	FieldETA
	FieldCracked
	FieldHashesTotal
	FieldKeyspace
)

// ParseWarning describes one field that could not be parsed. It never fails a job.
type ParseWarning struct {
	Field  string
	Value  string
	Reason string
}

func (w ParseWarning) Error() string {
	return fmt.Sprintf("status field %s=%q: %s", w.Field, w.Value, w.Reason)
}

// StatusRecord is the structured form of one progress line
type StatusRecord struct {
	Percent       float64
	Throughput    int64
	ETASeconds    int64
	Cracked       int
	HashesTotal   int
	KeyspaceDone  int64
	KeyspaceTotal int64
	ToolStatus    int
	Fields        Field
	Flagged       bool
	FlagReason    string
	Warnings      []ParseWarning
}

// Has reports whether the record carried f
func (r StatusRecord) Has(f Field) bool {
	return r.Fields&f != 0
}

// Exhausted reports whether the tool said the search space is done without cracking everything
func (r StatusRecord) Exhausted() bool {
	return r.ToolStatus == StatusExhausted
}

// Apply overlays the fields present in r on prev and returns the new snapshot.
// Fields missing from r keep their previous values.
func (r StatusRecord) Apply(prev models.ProgressSnapshot, now time.Time) models.ProgressSnapshot {
	next := prev
	next.Flagged = false
	next.FlagReason = ""
	if r.Has(FieldPercent) {
		next.Percent = r.Percent
	}
	if r.Has(FieldThroughput) {
		next.Throughput = r.Throughput
	}
	if r.Has(FieldETA) {
		next.ETASeconds = r.ETASeconds
	}
	if r.Has(FieldCracked) {
		next.Cracked = r.Cracked
	}
	if r.Has(FieldHashesTotal) {
		next.HashesTotal = r.HashesTotal
	}
	if r.Has(FieldKeyspace) {
		next.KeyspaceDone = r.KeyspaceDone
		next.KeyspaceTotal = r.KeyspaceTotal
	}
	next.RecordedAt = now

	reasons := []string{}
	if r.Flagged {
		reasons = append(reasons, r.FlagReason)
	}
	if next.HashesTotal > 0 && next.Cracked > next.HashesTotal {
		reasons = append(reasons, fmt.Sprintf("cracked %d exceeds total %d", next.Cracked, next.HashesTotal))
		next.Cracked = next.HashesTotal
	}
	if len(reasons) > 0 {
		next.Flagged = true
		next.FlagReason = strings.Join(reasons, "; ")
	}
	return next
}

// ParseStatusText parses every line of text. Unrecognized lines are skipped.
func ParseStatusText(text string, now time.Time) ([]StatusRecord, []ParseWarning) {
	var records []StatusRecord
	var warnings []ParseWarning

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		rec, ok := ParseStatusLine(scanner.Text(), now)
		warnings = append(warnings, rec.Warnings...)
		if ok {
			records = append(records, rec)
		}
	}
	return records, warnings
}

// ParseStatusLine recognizes --status-json objects, --machine-readable STATUS lines and
// key=value lines. ok is false when no progress field could be read.
func ParseStatusLine(line string, now time.Time) (StatusRecord, bool) {
	rec := StatusRecord{ToolStatus: StatusUnknown, ETASeconds: -1}
	line = strings.TrimSpace(line)
	if line == "" {
		return rec, false
	}

	switch {
	case strings.HasPrefix(line, "{"):
		parseJSONStatus(&rec, line, now)
	case strings.HasPrefix(line, "STATUS"):
		parseMachineReadable(&rec, line)
	case strings.Contains(line, "="):
		parseKeyValue(&rec, line)
	default:
		return rec, false
	}

	if rec.Fields == 0 {
		return rec, false
	}
	rec.clamp()
	return rec, true
}

func (r *StatusRecord) warn(field, value, reason string) {
	r.Warnings = append(r.Warnings, ParseWarning{Field: field, Value: value, Reason: reason})
}

func (r *StatusRecord) flag(reason string) {
	r.Flagged = true
	if r.FlagReason == "" {
		r.FlagReason = reason
	} else {
		r.FlagReason += "; " + reason
	}
}

// clamp fixes values that cannot be true and flags the record for review
func (r *StatusRecord) clamp() {
	if r.Has(FieldKeyspace) {
		if r.KeyspaceDone < 0 {
			r.KeyspaceDone = 0
		}
		if r.KeyspaceTotal > 0 && r.KeyspaceDone > r.KeyspaceTotal {
			r.flag(fmt.Sprintf("progress %d exceeds keyspace %d", r.KeyspaceDone, r.KeyspaceTotal))
			r.KeyspaceDone = r.KeyspaceTotal
		}
		if !r.Has(FieldPercent) && r.KeyspaceTotal > 0 {
			r.Percent = float64(r.KeyspaceDone) / float64(r.KeyspaceTotal) * 100
			r.Fields |= FieldPercent
		}
	}
	if r.Has(FieldPercent) {
		if r.Percent > 100 {
			r.flag(fmt.Sprintf("percent %.2f exceeds 100", r.Percent))
			r.Percent = 100
		} else if r.Percent < 0 {
			r.flag(fmt.Sprintf("percent %.2f is negative", r.Percent))
			r.Percent = 0
		}
	}
	if r.Has(FieldCracked) && r.Has(FieldHashesTotal) && r.HashesTotal > 0 && r.Cracked > r.HashesTotal {
		r.flag(fmt.Sprintf("cracked %d exceeds total %d", r.Cracked, r.HashesTotal))
		r.Cracked = r.HashesTotal
	}
}

type jsonDevice struct {
	Speed json.Number `json:"speed"`
}

func parseJSONStatus(r *StatusRecord, line string, now time.Time) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return
	}

	if v, ok := raw["status"]; ok {
		var code int
		if err := json.Unmarshal(v, &code); err != nil {
			r.warn("status", string(v), "not an integer")
		} else {
			r.ToolStatus = code
		}
	}

	if v, ok := raw["progress"]; ok {
		var pair []int64
		if err := json.Unmarshal(v, &pair); err != nil || len(pair) != 2 {
			r.warn("progress", string(v), "expected [done,total]")
		} else {
			r.KeyspaceDone, r.KeyspaceTotal = pair[0], pair[1]
			r.Fields |= FieldKeyspace
		}
	}

	if v, ok := raw["recovered_hashes"]; ok {
		var pair []int
		if err := json.Unmarshal(v, &pair); err != nil || len(pair) != 2 {
			r.warn("recovered_hashes", string(v), "expected [cracked,total]")
		} else {
			r.Cracked, r.HashesTotal = pair[0], pair[1]
			r.Fields |= FieldCracked | FieldHashesTotal
		}
	}

	if v, ok := raw["devices"]; ok {
		var devices []jsonDevice
		if err := json.Unmarshal(v, &devices); err != nil {
			r.warn("devices", string(v), "expected device list")
		} else {
			var total int64
			valid := false
			for _, d := range devices {
				speed, err := d.Speed.Int64()
				if err != nil {
					r.warn("devices.speed", d.Speed.String(), "not an integer")
					continue
				}
				total += speed
				valid = true
			}
			if valid {
				r.Throughput = total
				r.Fields |= FieldThroughput
			}
		}
	}

	if v, ok := raw["estimated_stop"]; ok {
		var stop int64
		if err := json.Unmarshal(v, &stop); err != nil {
			r.warn("estimated_stop", string(v), "not a unix timestamp")
		} else if stop > 0 {
			eta := stop - now.Unix()
			if eta < 0 {
				eta = 0
			}
			r.ETASeconds = eta
			r.Fields |= FieldETA
		}
	}
}

var machineKeyPattern = regexp.MustCompile(`^[A-Z][A-Z_]*$`)

func parseMachineReadable(r *StatusRecord, line string) {
	tokens := strings.Fields(line)
	values := map[string][]string{}
	var key string
	for _, tok := range tokens {
		if machineKeyPattern.MatchString(tok) {
			key = tok
			values[key] = nil
			continue
		}
		if key != "" {
			values[key] = append(values[key], tok)
		}
	}

	if v := values["STATUS"]; len(v) > 0 {
		if code, err := strconv.Atoi(v[0]); err == nil {
			r.ToolStatus = code
		} else {
			r.warn("STATUS", v[0], "not an integer")
		}
	}

	if v := values["SPEED"]; len(v) > 0 {
		var total float64
		valid := false
		for i := 0; i+1 < len(v); i += 2 {
			count, err1 := strconv.ParseFloat(v[i], 64)
			ms, err2 := strconv.ParseFloat(v[i+1], 64)
			if err1 != nil || err2 != nil || ms <= 0 {
				r.warn("SPEED", v[i]+" "+v[i+1], "expected hashes and milliseconds")
				continue
			}
			total += count * 1000 / ms
			valid = true
		}
		if valid {
			r.Throughput = int64(math.Round(total))
			r.Fields |= FieldThroughput
		}
	}

	if v := values["PROGRESS"]; len(v) > 0 {
		done, total, err := parsePair64(v)
		if err != nil {
			r.warn("PROGRESS", strings.Join(v, " "), err.Error())
		} else {
			r.KeyspaceDone, r.KeyspaceTotal = done, total
			r.Fields |= FieldKeyspace
		}
	}

	if v := values["RECHASH"]; len(v) > 0 {
		cracked, total, err := parsePair64(v)
		if err != nil {
			r.warn("RECHASH", strings.Join(v, " "), err.Error())
		} else {
			r.Cracked, r.HashesTotal = int(cracked), int(total)
			r.Fields |= FieldCracked | FieldHashesTotal
		}
	}
}

func parsePair64(v []string) (int64, int64, error) {
	if len(v) < 2 {
		return 0, 0, fmt.Errorf("expected two values")
	}
	a, err := strconv.ParseInt(v[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad first value")
	}
	b, err := strconv.ParseInt(v[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad second value")
	}
	return a, b, nil
}

var speedPattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*([kKMGT]?)(?:H/s)?$`)

func parseKeyValue(r *StatusRecord, line string) {
	fields := strings.FieldsFunc(line, func(c rune) bool {
		return c == ' ' || c == '\t' || c == ','
	})

	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "progress", "percent":
			p, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
			if err != nil {
				r.warn(key, value, "not a number")
				continue
			}
			r.Percent = p
			r.Fields |= FieldPercent

		case "speed", "throughput", "hashrate":
			s, err := parseSpeed(value)
			if err != nil {
				r.warn(key, value, err.Error())
				continue
			}
			r.Throughput = s
			r.Fields |= FieldThroughput

		case "eta":
			secs, err := parseSeconds(value)
			if err != nil {
				r.warn(key, value, err.Error())
				continue
			}
			r.ETASeconds = secs
			r.Fields |= FieldETA

		case "cracked", "recovered":
			c, t, hasTotal, err := parseCount(value)
			if err != nil {
				r.warn(key, value, err.Error())
				continue
			}
			r.Cracked = c
			r.Fields |= FieldCracked
			if hasTotal {
				r.HashesTotal = t
				r.Fields |= FieldHashesTotal
			}

		case "total", "hashes":
			t, err := strconv.Atoi(value)
			if err != nil || t < 0 {
				r.warn(key, value, "not a count")
				continue
			}
			r.HashesTotal = t
			r.Fields |= FieldHashesTotal

		case "keyspace":
			doneStr, totalStr, ok := strings.Cut(value, "/")
			done, err1 := strconv.ParseInt(doneStr, 10, 64)
			total, err2 := strconv.ParseInt(totalStr, 10, 64)
			if !ok || err1 != nil || err2 != nil {
				r.warn(key, value, "expected done/total")
				continue
			}
			r.KeyspaceDone, r.KeyspaceTotal = done, total
			r.Fields |= FieldKeyspace

		case "status":
			r.ToolStatus = parseStatusName(value)
		}
	}
}

func parseSpeed(value string) (int64, error) {
	m := speedPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("not a speed")
	}
	speed, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("not a speed")
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		speed *= 1000
	case "M":
		speed *= 1000000
	case "G":
		speed *= 1000000000
	case "T":
		speed *= 1000000000000
	}
	return int64(speed), nil
}

func parseSeconds(value string) (int64, error) {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n < 0 {
			return -1, nil
		}
		return n, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("not a duration")
	}
	return int64(d.Seconds()), nil
}

func parseCount(value string) (int, int, bool, error) {
	c, t, hasTotal := strings.Cut(value, "/")
	cracked, err := strconv.Atoi(c)
	if err != nil || cracked < 0 {
		return 0, 0, false, fmt.Errorf("not a count")
	}
	if !hasTotal {
		return cracked, 0, false, nil
	}
	total, err := strconv.Atoi(t)
	if err != nil || total < 0 {
		return cracked, 0, false, nil
	}
	return cracked, total, true, nil
}

func parseStatusName(value string) int {
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	switch strings.ToLower(value) {
	case "running":
		return StatusRunning
	case "paused":
		return StatusPaused
	case "exhausted":
		return StatusExhausted
	case "cracked":
		return StatusCracked
	case "aborted":
		return StatusAborted
	case "quit":
		return StatusQuit
	}
	return StatusUnknown
}

// Stale reports whether no progress has been seen within window.
// A zero lastSeen falls back to since, the moment the process started.
func Stale(lastSeen, since, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	ref := lastSeen
	if ref.IsZero() {
		ref = since
	}
	if ref.IsZero() {
		return false
	}
	return now.Sub(ref) > window
}
