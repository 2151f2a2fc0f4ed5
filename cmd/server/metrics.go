package main

import (
	"fmt"
	"io"

	"clawparadise.ai/internal/sim/island"
)

var activePhases = []island.Phase{
	island.PhaseLobby,
	island.PhaseMorning,
	island.PhaseChallenge,
	island.PhaseJudging,
	island.PhaseAfternoon,
	island.PhaseTribalCouncil,
	island.PhaseElimination,
}

// writeMetrics renders the Prometheus text exposition for the runtime.
func writeMetrics(w io.Writer, rt *serverRuntime, islands []island.IslandSummary) {
	m := rt.engine.Metrics()

	fmt.Fprintf(w, "# HELP clawparadise_resolutions_total Phase resolutions applied.\n")
	fmt.Fprintf(w, "# TYPE clawparadise_resolutions_total counter\n")
	fmt.Fprintf(w, "clawparadise_resolutions_total %d\n", m.Resolutions)

	fmt.Fprintf(w, "# HELP clawparadise_submissions_total Accepted agent actions.\n")
	fmt.Fprintf(w, "# TYPE clawparadise_submissions_total counter\n")
	fmt.Fprintf(w, "clawparadise_submissions_total %d\n", m.Submissions)

	fmt.Fprintf(w, "# HELP clawparadise_games_ended_total Games that reached GAME_OVER.\n")
	fmt.Fprintf(w, "# TYPE clawparadise_games_ended_total counter\n")
	fmt.Fprintf(w, "clawparadise_games_ended_total %d\n", m.GamesEnded)

	fmt.Fprintf(w, "# HELP clawparadise_archive_rejected_total Finished games the archiver refused.\n")
	fmt.Fprintf(w, "# TYPE clawparadise_archive_rejected_total counter\n")
	fmt.Fprintf(w, "clawparadise_archive_rejected_total %d\n", m.ArchiveErrors)

	phases := map[island.Phase]int{}
	for _, s := range islands {
		phases[s.Phase]++
	}
	fmt.Fprintf(w, "# HELP clawparadise_islands Active islands by phase.\n")
	fmt.Fprintf(w, "# TYPE clawparadise_islands gauge\n")
	for _, p := range activePhases {
		fmt.Fprintf(w, "clawparadise_islands{phase=%q} %d\n", string(p), phases[p])
	}

	if rt.hub != nil {
		fmt.Fprintf(w, "# HELP clawparadise_spectators Connected spectator streams.\n")
		fmt.Fprintf(w, "# TYPE clawparadise_spectators gauge\n")
		fmt.Fprintf(w, "clawparadise_spectators %d\n", rt.hub.Subscribers())

		fmt.Fprintf(w, "# HELP clawparadise_spectator_dropped_total Event batches dropped for slow spectators.\n")
		fmt.Fprintf(w, "# TYPE clawparadise_spectator_dropped_total counter\n")
		fmt.Fprintf(w, "clawparadise_spectator_dropped_total %d\n", rt.hub.Dropped())
	}

	if rt.agents != nil {
		fmt.Fprintf(w, "# HELP clawparadise_agent_streams Connected agent push streams.\n")
		fmt.Fprintf(w, "# TYPE clawparadise_agent_streams gauge\n")
		fmt.Fprintf(w, "clawparadise_agent_streams %d\n", rt.agents.Connections())

		fmt.Fprintf(w, "# HELP clawparadise_agent_state_pushes_total STATE messages pushed to agents.\n")
		fmt.Fprintf(w, "# TYPE clawparadise_agent_state_pushes_total counter\n")
		fmt.Fprintf(w, "clawparadise_agent_state_pushes_total %d\n", rt.agents.Pushes())
	}

	if rt.archive != nil {
		written, failed := rt.archive.Stats()
		fmt.Fprintf(w, "# HELP clawparadise_archive_writes_total Archive document writes.\n")
		fmt.Fprintf(w, "# TYPE clawparadise_archive_writes_total counter\n")
		fmt.Fprintf(w, "clawparadise_archive_writes_total{result=%q} %d\n", "ok", written)
		fmt.Fprintf(w, "clawparadise_archive_writes_total{result=%q} %d\n", "error", failed)
	}

	if rt.events != nil {
		written, failed := rt.events.Stats()
		fmt.Fprintf(w, "# HELP clawparadise_event_log_records_total Timeline records appended to the event log.\n")
		fmt.Fprintf(w, "# TYPE clawparadise_event_log_records_total counter\n")
		fmt.Fprintf(w, "clawparadise_event_log_records_total{result=%q} %d\n", "ok", written)
		fmt.Fprintf(w, "clawparadise_event_log_records_total{result=%q} %d\n", "error", failed)
	}

	if rt.mirror != nil {
		s := rt.mirror.Stats()
		fmt.Fprintf(w, "# HELP clawparadise_r2_mirror_queue_depth Current R2 mirror queue depth.\n")
		fmt.Fprintf(w, "# TYPE clawparadise_r2_mirror_queue_depth gauge\n")
		fmt.Fprintf(w, "clawparadise_r2_mirror_queue_depth %d\n", s.Queued)

		fmt.Fprintf(w, "# HELP clawparadise_r2_mirror_uploads_total Mirror uploads by result.\n")
		fmt.Fprintf(w, "# TYPE clawparadise_r2_mirror_uploads_total counter\n")
		fmt.Fprintf(w, "clawparadise_r2_mirror_uploads_total{result=%q} %d\n", "ok", s.Uploaded)
		fmt.Fprintf(w, "clawparadise_r2_mirror_uploads_total{result=%q} %d\n", "error", s.Failed)
		fmt.Fprintf(w, "clawparadise_r2_mirror_uploads_total{result=%q} %d\n", "dropped", s.Dropped)

		fmt.Fprintf(w, "# HELP clawparadise_r2_mirror_last_success_unix Unix timestamp of last successful mirror upload.\n")
		fmt.Fprintf(w, "# TYPE clawparadise_r2_mirror_last_success_unix gauge\n")
		fmt.Fprintf(w, "clawparadise_r2_mirror_last_success_unix %d\n", s.LastUploadUnix)
	}

	cats := rt.engine.Catalogs()
	fmt.Fprintf(w, "# HELP clawparadise_catalog_info Loaded content catalogs.\n")
	fmt.Fprintf(w, "# TYPE clawparadise_catalog_info gauge\n")
	fmt.Fprintf(w, "clawparadise_catalog_info{catalog=%q,digest=%q} %d\n", "personas", cats.Personas.Digest, len(cats.Personas.List))
	fmt.Fprintf(w, "clawparadise_catalog_info{catalog=%q,digest=%q} %d\n", "arenas", cats.Arenas.Digest, len(cats.ArenaTypes()))
	fmt.Fprintf(w, "clawparadise_catalog_info{catalog=%q,digest=%q} %d\n", "challenges", cats.Challenges.Digest, len(cats.Challenges.List))
}
