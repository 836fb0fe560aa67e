package conflict

import (
	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/monitor"
)

// Result is the outcome of resolving one local/remote pair.
type Result struct {
	HasConflict bool
	Resolution  Resolution
	// Data is the record to keep. It is nil when Resolution is manual.
	Data           *models.Record
	Reason         string
	Strategy       Strategy
	FieldConflicts []models.FieldConflict
}

// Resolver detects conflicts and settles them with a configured strategy.
type Resolver struct {
	detector *Detector
	strategy Strategy
	monitor  monitor.Monitor
}

// NewResolver returns a resolver. A nil detector uses DefaultWindow, an
// empty strategy means LastWriteWins and a nil monitor discards events.
func NewResolver(strategy Strategy, detector *Detector, mon monitor.Monitor) *Resolver {
	if strategy == "" {
		strategy = LastWriteWins
	}
	if detector == nil {
		detector = NewDetector(DefaultWindow)
	}
	if mon == nil {
		mon = monitor.Noop{}
	}
	return &Resolver{detector: detector, strategy: strategy, monitor: mon}
}

func (r *Resolver) Strategy() Strategy { return r.strategy }

func (r *Resolver) Detector() *Detector { return r.detector }

// Resolve settles local against remote using the configured strategy.
func (r *Resolver) Resolve(entity string, local, remote *models.Record) (Result, error) {
	return r.ResolveWith(r.strategy, entity, local, remote)
}

// ResolveWith settles local against remote using strategy. Non-conflicting
// pairs resolve to the newer side whatever the strategy.
func (r *Resolver) ResolveWith(strategy Strategy, entity string, local, remote *models.Record) (Result, error) {
	det, err := r.detector.Detect(local, remote)
	if err != nil {
		return Result{}, err
	}

	res := Result{HasConflict: det.HasConflict, Reason: det.Reason, Strategy: strategy}

	if !det.HasConflict {
		switch det.Newer {
		case SideRemote:
			res.Resolution, res.Data = ResolutionRemote, remote.Clone()
		case SideLocal:
			res.Resolution, res.Data = ResolutionLocal, local.Clone()
		default:
			res.Resolution, res.Data = ResolutionNone, local.Clone()
		}
		return res, nil
	}

	switch strategy {
	case VersionBased:
		switch lv, rv := local.Version(), remote.Version(); {
		case lv > rv:
			res.Resolution, res.Data = ResolutionLocal, local.Clone()
		case rv > lv:
			res.Resolution, res.Data = ResolutionRemote, remote.Clone()
		default:
			res.Resolution = ResolutionManual
		}
	case FieldMerge:
		switch {
		case dominates(remote, local):
			res.Resolution, res.Data = ResolutionRemote, remote.Clone()
		case dominates(local, remote):
			res.Resolution, res.Data = ResolutionLocal, local.Clone()
		default:
			res.Data, res.FieldConflicts = merge(local, remote)
			res.Resolution = ResolutionMerged
		}
	default:
		res.Strategy = LastWriteWins
		if lwwWinner(local, remote) == SideRemote {
			res.Resolution, res.Data = ResolutionRemote, remote.Clone()
		} else {
			res.Resolution, res.Data = ResolutionLocal, local.Clone()
		}
	}

	r.monitor.ConflictRecorded(monitor.ConflictEvent{
		Entity:     entity,
		UUID:       local.UUID(),
		Strategy:   string(res.Strategy),
		Resolution: string(res.Resolution),
		Reason:     res.Reason,
		Manual:     res.Resolution == ResolutionManual,
	})
	return res, nil
}

// ReportManual records the outcome of a user decision on a stored conflict.
func (r *Resolver) ReportManual(entity, uuid string, choice models.ConflictChoice, reason string) {
	r.monitor.ConflictRecorded(monitor.ConflictEvent{
		Entity:     entity,
		UUID:       uuid,
		Strategy:   "manual",
		Resolution: string(choice),
		Reason:     reason,
		Manual:     true,
	})
}
