package models

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// AttackKind names the search strategy of an attack
type AttackKind string

const (
	AttackKindDictionary AttackKind = "dictionary"
	AttackKindMask       AttackKind = "mask"
	AttackKindHybrid     AttackKind = "hybrid"
)

// TargetKind selects which captured credential artifact is attacked
type TargetKind string

const (
	// TargetHC22000 covers both EAPOL handshakes and PMKIDs in the hc22000 text format
	TargetHC22000 TargetKind = "hc22000"
	// TargetHandshake is a legacy hccapx handshake capture
	TargetHandshake TargetKind = "handshake"
	// TargetPMKID is a legacy PMKID line capture
	TargetPMKID TargetKind = "pmkid"
)

// AttackMode is a closed union. Only the payload types in this package implement it.
type AttackMode interface {
	Kind() AttackKind
	attackMode()
}

// DictionaryAttack tries every word of each dictionary, optionally mangled by rules
type DictionaryAttack struct {
	Dictionaries []string `json:"dictionaries" mapstructure:"dictionaries"`
	Rules        []string `json:"rules,omitempty" mapstructure:"rules"`
}

// MaskAttack enumerates a mask. CustomCharsets fill ?1..?4 in order.
type MaskAttack struct {
	Mask           string   `json:"mask" mapstructure:"mask"`
	CustomCharsets []string `json:"custom_charsets,omitempty" mapstructure:"custom_charsets"`
}

// HybridAttack combines one dictionary with a mask appended (or prepended when MaskFirst)
type HybridAttack struct {
	Dictionary string `json:"dictionary" mapstructure:"dictionary"`
	Mask       string `json:"mask" mapstructure:"mask"`
	MaskFirst  bool   `json:"mask_first,omitempty" mapstructure:"mask_first"`
}

func (DictionaryAttack) Kind() AttackKind { return AttackKindDictionary }
func (MaskAttack) Kind() AttackKind       { return AttackKindMask }
func (HybridAttack) Kind() AttackKind     { return AttackKindHybrid }

func (DictionaryAttack) attackMode() {}
func (MaskAttack) attackMode()       {}
func (HybridAttack) attackMode()     {}

// ResourceHints tune how hard the tool runs. Zero values mean "use the configured default".
type ResourceHints struct {
	Workload          int   `json:"workload,omitempty"`
	Devices           []int `json:"devices,omitempty"`
	TimeBudgetSeconds int   `json:"time_budget_seconds,omitempty"`
	TimeoutSeconds    int   `json:"timeout_seconds,omitempty"`
}

// AttackRequest is the immutable input of a job
type AttackRequest struct {
	JobID    string        `json:"job_id"`
	Name     string        `json:"name,omitempty"`
	Capture  string        `json:"capture"`
	Networks []string      `json:"networks"`
	Target   TargetKind    `json:"target,omitempty"`
	Mode     AttackMode    `json:"-"`
	Hints    ResourceHints `json:"hints"`
}

// TargetOrDefault returns the request target, hc22000 when unset
func (r AttackRequest) TargetOrDefault() TargetKind {
	if r.Target == "" {
		return TargetHC22000
	}
	return r.Target
}

// ArtifactRefs lists every dictionary and rules reference in request order
func (r AttackRequest) ArtifactRefs() (dictionaries, rules []string) {
	switch m := r.Mode.(type) {
	case DictionaryAttack:
		return append([]string(nil), m.Dictionaries...), append([]string(nil), m.Rules...)
	case *DictionaryAttack:
		return append([]string(nil), m.Dictionaries...), append([]string(nil), m.Rules...)
	case HybridAttack:
		return []string{m.Dictionary}, nil
	case *HybridAttack:
		return []string{m.Dictionary}, nil
	}
	return nil, nil
}

// WithJobID returns a copy of the request bound to a different job
func (r AttackRequest) WithJobID(id string) AttackRequest {
	c := r
	c.JobID = id
	c.Networks = append([]string(nil), r.Networks...)
	c.Hints.Devices = append([]int(nil), r.Hints.Devices...)
	return c
}

// DecodeAttackMode turns an untyped params map into the payload for kind.
// Keys that do not belong to the kind are rejected.
func DecodeAttackMode(kind AttackKind, params map[string]interface{}) (AttackMode, error) {
	var target interface{}
	switch kind {
	case AttackKindDictionary:
		target = &DictionaryAttack{}
	case AttackKindMask:
		target = &MaskAttack{}
	case AttackKindHybrid:
		target = &HybridAttack{}
	default:
		return nil, fmt.Errorf("unknown attack mode %q", kind)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      target,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create params decoder: %w", err)
	}
	if err := decoder.Decode(params); err != nil {
		return nil, fmt.Errorf("invalid %s params: %w", kind, err)
	}

	switch m := target.(type) {
	case *DictionaryAttack:
		return *m, nil
	case *MaskAttack:
		return *m, nil
	default:
		return *target.(*HybridAttack), nil
	}
}

// EncodeAttackMode flattens a payload back into a params map
func EncodeAttackMode(mode AttackMode) (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if mode == nil {
		return params, nil
	}
	if err := mapstructure.Decode(mode, &params); err != nil {
		return nil, fmt.Errorf("failed to encode %s params: %w", mode.Kind(), err)
	}
	return params, nil
}

type attackRequestAlias AttackRequest

type attackRequestJSON struct {
	attackRequestAlias
	ModeKind   AttackKind             `json:"mode"`
	ModeParams map[string]interface{} `json:"params"`
}

// MarshalJSON writes the mode as {"mode": kind, "params": {...}}
func (r AttackRequest) MarshalJSON() ([]byte, error) {
	out := attackRequestJSON{attackRequestAlias: attackRequestAlias(r)}
	if r.Mode != nil {
		params, err := EncodeAttackMode(r.Mode)
		if err != nil {
			return nil, err
		}
		out.ModeKind = r.Mode.Kind()
		out.ModeParams = params
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON
func (r *AttackRequest) UnmarshalJSON(data []byte) error {
	var in attackRequestJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = AttackRequest(in.attackRequestAlias)
	if in.ModeKind == "" {
		r.Mode = nil
		return nil
	}
	mode, err := DecodeAttackMode(in.ModeKind, in.ModeParams)
	if err != nil {
		return err
	}
	r.Mode = mode
	return nil
}
