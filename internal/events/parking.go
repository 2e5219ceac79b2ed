package events

import (
	"log/slog"

	"github.com/namith-arrellio/fs-ec2/internal/esl"
)

// Parking event field values.
const (
	parkingSubclass = "valet_parking::info"
	actionHold      = "hold"
	actionBridge    = "bridge"
)

// OccupancySink receives park-slot occupancy transitions. The presence
// publisher satisfies it.
type OccupancySink interface {
	SetParked(tenant, slot, occupant string)
	SetRetrieved(tenant, slot string)
}

// ParkingHandler returns the feed event handler that maps valet parking
// transitions onto the occupancy sink. A "hold" action marks the slot
// parked, a "bridge" (retrieval) marks it retrieved; events missing the lot
// or slot are ignored. All other feed events are only traced.
func ParkingHandler(sink OccupancySink, logger *slog.Logger) func(*esl.Event) {
	logger = logger.With("component", "parking_dispatch")

	return func(ev *esl.Event) {
		if ev.Name() != "CUSTOM" || ev.Subclass() != parkingSubclass {
			logger.Debug("channel event", "event", ev.Name())
			return
		}

		lot := ev.GetAny("Valet-Lot-Name", "variable_valet_lot_name")
		slot := ev.GetAny("Valet-Extension", "variable_valet_extension")
		if lot == "" || slot == "" {
			logger.Debug("parking event without lot or slot, ignoring")
			return
		}

		action := ev.GetAny("Action", "variable_action")
		switch action {
		case actionHold:
			occupant := ev.GetAny("Caller-Caller-ID-Name", "Caller-Caller-ID-Number")
			logger.Info("call parked", "lot", lot, "slot", slot, "occupant", occupant)
			sink.SetParked(lot, slot, occupant)
		case actionBridge:
			logger.Info("call retrieved", "lot", lot, "slot", slot)
			sink.SetRetrieved(lot, slot)
		default:
			logger.Debug("parking event with unhandled action",
				"lot", lot,
				"slot", slot,
				"action", action,
			)
		}
	}
}
