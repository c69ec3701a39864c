package domain

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// Capabilities a node can be ranked on.
const (
	CapabilitySTT   = "stt"
	CapabilityVWAV  = "vwav"
	CapabilitySRGAN = "srgan"
	CapabilityLlama = "llama"
)

var ErrUnknownCapability = errors.New("unknown capability")

// Capabilities lists every rankable capability.
func Capabilities() []string {
	return []string{CapabilitySTT, CapabilityVWAV, CapabilitySRGAN, CapabilityLlama}
}

// ValidCapability reports whether name is a rankable capability.
func ValidCapability(name string) bool {
	return slices.Contains(Capabilities(), name)
}

// Candidate is a node together with the latency it is ranked by.
type Candidate struct {
	Node    *Node
	Latency int64 // milliseconds, lower is better
	Load    int   // in-flight jobs
}

// Latency returns the figure a node is ranked by for a capability.
// An aggregated score reported by the node wins; otherwise the fastest
// measured tier is used. ok is false when nothing was measured.
func (s Stats) Latency(capability string) (ms int64, ok bool, err error) {
	var score *int64
	var tiers []*int64

	switch capability {
	case CapabilitySTT:
		score = s.WhisperSTTScore
		tiers = []*int64{s.WhisperSTTTiny, s.WhisperSTTBase, s.WhisperSTTMedium, s.WhisperSTTLarge}
	case CapabilityVWAV:
		score = s.WhisperVWAVScore
		tiers = []*int64{s.WhisperVWAVTiny, s.WhisperVWAVBase, s.WhisperVWAVMedium, s.WhisperVWAVLarge}
	case CapabilitySRGAN:
		score = s.SRGANScore
	case CapabilityLlama:
		score = s.LlamaScore
		tiers = []*int64{s.Llama7B, s.Llama13B, s.Llama30B, s.Llama65B}
	default:
		return 0, false, ErrUnknownCapability
	}

	if score != nil {
		return *score, true, nil
	}
	for _, t := range tiers {
		if t != nil && (!ok || *t < ms) {
			ms, ok = *t, true
		}
	}
	return ms, ok, nil
}

// RankCandidates ranks online nodes able to serve a capability, fastest
// first. Ties go to the node with fewer jobs, then to the lower id.
func RankCandidates(capability string, nodes []*Node) ([]*Candidate, error) {
	if !ValidCapability(capability) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, capability)
	}

	candidates := make([]*Candidate, 0, len(nodes))

	for _, n := range nodes {
		// Offline nodes are kept in the registry but never selected
		if n == nil || !n.Online {
			continue
		}

		latency, ok, err := n.Stats.Latency(capability)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		candidates = append(candidates, &Candidate{
			Node:    n,
			Latency: latency,
			Load:    len(n.Jobs),
		})
	}

	sortCandidates(candidates)

	return candidates, nil
}

func sortCandidates(candidates []*Candidate) {
	slices.SortStableFunc(candidates, func(a, b *Candidate) int {
		return cmp.Or(
			cmp.Compare(a.Latency, b.Latency),
			cmp.Compare(a.Load, b.Load),
			cmp.Compare(a.Node.ID, b.Node.ID),
		)
	})
}

// FindBestMatch returns the fastest online node for a capability, or nil
// when no node has been measured for it.
func FindBestMatch(capability string, nodes []*Node) (*Node, error) {
	candidates, err := RankCandidates(capability, nodes)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}
	return candidates[0].Node, nil
}
