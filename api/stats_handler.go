package api

import (
	"net/http"

	"github.com/xraph/forge"
)

func (a *API) allStats(ctx forge.Context) error {
	records, err := a.eng.Monitor().CheckAll(ctx.Context())
	if err != nil {
		return mapError(err)
	}

	// Catalog order keeps the response stable across calls.
	out := make([]QueueStatsResponse, 0, len(records))
	for _, name := range a.eng.Queues().Names() {
		out = append(out, QueueStatsResponse{
			Record: records[name],
			Alerts: a.eng.Monitor().Alerts(name),
		})
	}
	return ctx.JSON(http.StatusOK, out)
}

func (a *API) queueStats(ctx forge.Context) error {
	name := ctx.Param("queue")
	if _, ok := a.eng.Queues().Lookup(name); !ok {
		return forge.BadRequest("unknown queue " + name)
	}

	rec, alerts, err := a.eng.Monitor().CheckQueue(ctx.Context(), name)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(http.StatusOK, QueueStatsResponse{Record: rec, Alerts: alerts})
}
