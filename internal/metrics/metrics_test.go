package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bombarena.ai/internal/arena"
	"bombarena.ai/internal/lifecycle"
	"bombarena.ai/internal/match"
	"bombarena.ai/internal/protocol"
	"bombarena.ai/internal/turn"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestObserveTick(t *testing.T) {
	m := New()
	m.ObserveTick(match.TickEntry{
		Phase:   match.PhasePlayer,
		Elapsed: 3 * time.Millisecond,
		Turns: []turn.Report{
			{Result: protocol.Moved, Fuel: 5000},
			{Result: protocol.ActionFailed, Fuel: 10_000_000, Code: "E_OUT_OF_FUEL", Banned: true},
		},
		Events: []lifecycle.Event{{Kind: lifecycle.EventBan, Code: "E_OUT_OF_FUEL"}},
	})
	m.ObserveTick(match.TickEntry{
		Phase:    match.PhaseWorld,
		Exploded: []protocol.Location{{X: 1, Y: 1}},
		Kills:    []arena.Kill{{Victim: 3}},
	})
	m.ObserveRound(match.RoundResult{})
	m.RegisterGaugeFunc("arena_index_queue_depth", "Queued index writes.", func() float64 { return 7 })

	body := scrape(t, m)
	for _, want := range []string{
		`arena_ticks_total{phase="PLAYER"} 1`,
		`arena_ticks_total{phase="WORLD"} 1`,
		`arena_turns_total{result="Moved"} 1`,
		`arena_turns_total{result="ActionFailed"} 1`,
		`arena_bans_total{code="E_OUT_OF_FUEL"} 1`,
		`arena_lifecycle_events_total{kind="BAN"} 1`,
		`arena_kills_total 1`,
		`arena_explosions_total 1`,
		`arena_rounds_total 1`,
		`arena_live_agents 2`,
		`arena_turn_fuel_count 2`,
		`arena_index_queue_depth 7`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
