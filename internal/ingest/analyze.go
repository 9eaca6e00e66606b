package ingest

import (
	"context"
	"errors"
	"sort"

	"ais_ingest/internal/ais"
	"ais_ingest/internal/decoder"
	"ais_ingest/internal/stream"
)

// Report describes how a capture decodes.
type Report struct {
	Frames      int            `json:"frames"`
	Decoded     int            `json:"decoded"`
	DecodeRate  float64        `json:"decode_rate"`
	UniqueMMSIs int            `json:"unique_mmsis"`
	Skipped     map[string]int `json:"skipped"`
	Kinds       []KindCount    `json:"kinds"`
}

// KindCount is the tally for one MessageType.
type KindCount struct {
	Kind    string  `json:"kind"`
	Count   int     `json:"count"`
	Decoded int     `json:"decoded"`
	Pct     float64 `json:"percentage"`
}

// Analyze runs every frame of src through the decoder without persisting
// anything and tallies the outcome per message kind.
func Analyze(ctx context.Context, src stream.Source, dec *decoder.Decoder) (*Report, error) {
	if dec == nil {
		dec = decoder.New()
	}

	rep := &Report{Skipped: make(map[string]int)}
	kinds := make(map[string]*KindCount)
	mmsis := make(map[int64]struct{})

	err := src.Run(ctx, func(_ context.Context, frame []byte) {
		rep.Frames++

		kind := "(unparseable)"
		if env, err := ais.ParseEnvelope(frame); err == nil {
			kind = env.MessageType
			if kind == "" {
				kind = "(none)"
			}
		}
		kc := kinds[kind]
		if kc == nil {
			kc = &KindCount{Kind: kind}
			kinds[kind] = kc
		}
		kc.Count++

		res, err := dec.Decode(frame)
		if err != nil {
			rep.Skipped[skipReason(err)]++
			return
		}
		rep.Decoded++
		kc.Decoded++
		mmsis[res.Key()] = struct{}{}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	rep.UniqueMMSIs = len(mmsis)
	if rep.Frames > 0 {
		rep.DecodeRate = float64(rep.Decoded) / float64(rep.Frames) * 100
	}
	for _, kc := range kinds {
		kc.Pct = float64(kc.Count) / float64(rep.Frames) * 100
		rep.Kinds = append(rep.Kinds, *kc)
	}
	sort.Slice(rep.Kinds, func(i, j int) bool {
		if rep.Kinds[i].Count != rep.Kinds[j].Count {
			return rep.Kinds[i].Count > rep.Kinds[j].Count
		}
		return rep.Kinds[i].Kind < rep.Kinds[j].Kind
	})
	return rep, nil
}
