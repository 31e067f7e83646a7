// Package drift diffs call-graph snapshots, classifies the changes with a
// rule engine, and renders scored events into explain cards.
package drift

import (
	"math"
	"sort"

	"github.com/meshdrift/meshdrift/internal/model"
)

// Detection thresholds. A spike must both clear the absolute floor and
// exceed the relative growth factor against the baseline edge.
const (
	errorRateFloor      = 0.05
	errorSpikeFactor    = 2.0
	latencyFloorMs      = 100.0
	latencySpikeFactor  = 2.0
	trafficSpikeFactor  = 3.0
	blastRadiusMinDelta = 2
)

// Detect compares baseline and current snapshots and returns the drift
// events between them. The result is deterministic: edge sets are walked
// in lexicographic (source, destination) order. Events carry no severity;
// scoring is a separate stage.
func Detect(baseline, current *model.Snapshot) []model.DriftEvent {
	var events []model.DriftEvent

	baseEdges := baseline.EdgeMap()
	currEdges := current.EdgeMap()

	// 1. New edges.
	for _, key := range sortedKeys(currEdges) {
		if _, ok := baseEdges[key]; ok {
			continue
		}
		reqs := float64(currEdges[key].RequestCount)
		events = append(events, model.DriftEvent{
			EventType:   model.EventNewEdge,
			Source:      key.Source,
			Destination: key.Destination,
			Details:     model.EventDetails{CurrentValue: reqs, RequestCount: &reqs},
		})
	}

	// 2. Removed edges.
	for _, key := range sortedKeys(baseEdges) {
		if _, ok := currEdges[key]; ok {
			continue
		}
		events = append(events, model.DriftEvent{
			EventType:   model.EventRemovedEdge,
			Source:      key.Source,
			Destination: key.Destination,
			Details:     model.EventDetails{BaselineValue: float64(baseEdges[key].RequestCount)},
		})
	}

	// 3. Metric changes on common edges.
	for _, key := range sortedKeys(baseEdges) {
		old, ok := baseEdges[key]
		if !ok {
			continue
		}
		cur, ok := currEdges[key]
		if !ok {
			continue
		}

		if ev, ok := errorSpike(key, old, cur); ok {
			events = append(events, ev)
		}
		if ev, ok := latencySpike(key, old, cur); ok {
			events = append(events, ev)
		}
		if ev, ok := trafficSpike(key, old, cur); ok {
			events = append(events, ev)
		}
	}

	// 4. Blast radius growth per source.
	events = append(events, blastRadius(baseline, current)...)

	return events
}

func errorSpike(key model.EdgeKey, old, cur model.Edge) (model.DriftEvent, bool) {
	oldRate, curRate := old.ErrorRate(), cur.ErrorRate()
	if oldRate <= 0 || curRate <= errorRateFloor || curRate/oldRate <= errorSpikeFactor {
		return model.DriftEvent{}, false
	}
	return model.DriftEvent{
		EventType:   model.EventErrorSpike,
		Source:      key.Source,
		Destination: key.Destination,
		Details: model.EventDetails{
			BaselineValue: round4(oldRate),
			CurrentValue:  round4(curRate),
			ChangeFactor:  round2(curRate / oldRate),
		},
	}, true
}

func latencySpike(key model.EdgeKey, old, cur model.Edge) (model.DriftEvent, bool) {
	if old.P99LatencyMs <= 0 || cur.P99LatencyMs <= latencyFloorMs {
		return model.DriftEvent{}, false
	}
	factor := cur.P99LatencyMs / old.P99LatencyMs
	if factor <= latencySpikeFactor {
		return model.DriftEvent{}, false
	}
	return model.DriftEvent{
		EventType:   model.EventLatencySpike,
		Source:      key.Source,
		Destination: key.Destination,
		Details: model.EventDetails{
			BaselineValue: old.P99LatencyMs,
			CurrentValue:  cur.P99LatencyMs,
			ChangeFactor:  round2(factor),
		},
	}, true
}

func trafficSpike(key model.EdgeKey, old, cur model.Edge) (model.DriftEvent, bool) {
	if old.RequestCount <= 0 {
		return model.DriftEvent{}, false
	}
	factor := float64(cur.RequestCount) / float64(old.RequestCount)
	if factor <= trafficSpikeFactor {
		return model.DriftEvent{}, false
	}
	return model.DriftEvent{
		EventType:   model.EventTrafficSpike,
		Source:      key.Source,
		Destination: key.Destination,
		Details: model.EventDetails{
			BaselineValue: float64(old.RequestCount),
			CurrentValue:  float64(cur.RequestCount),
			ChangeFactor:  round2(factor),
		},
	}, true
}

func blastRadius(baseline, current *model.Snapshot) []model.DriftEvent {
	baseOut := outgoingCounts(baseline)
	currOut := outgoingCounts(current)

	sources := make(map[string]struct{}, len(baseOut)+len(currOut))
	for s := range baseOut {
		sources[s] = struct{}{}
	}
	for s := range currOut {
		sources[s] = struct{}{}
	}
	names := make([]string, 0, len(sources))
	for s := range sources {
		names = append(names, s)
	}
	sort.Strings(names)

	var events []model.DriftEvent
	for _, svc := range names {
		delta := currOut[svc] - baseOut[svc]
		if delta < blastRadiusMinDelta {
			continue
		}
		events = append(events, model.DriftEvent{
			EventType:   model.EventBlastRadiusIncrease,
			Source:      svc,
			Destination: "*",
			Details: model.EventDetails{
				BaselineValue: float64(baseOut[svc]),
				CurrentValue:  float64(currOut[svc]),
				ChangeFactor:  float64(delta),
			},
		})
	}
	return events
}

func outgoingCounts(snap *model.Snapshot) map[string]int {
	counts := make(map[string]int)
	for _, e := range snap.Edges {
		counts[e.Source]++
	}
	return counts
}

func sortedKeys(edges map[model.EdgeKey]model.Edge) []model.EdgeKey {
	keys := make([]model.EdgeKey, 0, len(edges))
	for k := range edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
