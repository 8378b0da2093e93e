package plan

import (
	"fmt"

	"github.com/nijaru/sy/internal/entry"
	"github.com/nijaru/sy/internal/synerr"
)

// Result is the full output of one planning pass.
type Result struct {
	Tasks []Task

	FilesConsidered int
	FilesToDelete   int
}

// Plan pairs destEntries against sourceEntries by relative path and
// produces Tasks, per spec §4.2's comparison rules in order: absent at
// destination -> Create; kind mismatch -> Delete+Create; regular file ->
// apply the configured comparison mode. Deletion is classified only
// after every create/update decision, and checked against the ceiling.
func Plan(sourceEntries, destEntries []entry.Entry, opts Options) (*Result, error) {
	if opts.DeleteCeiling == 0 {
		d := defaultOptions()
		opts.DeleteCeiling = d.DeleteCeiling
	}
	if opts.LargeFileThreshold == 0 {
		opts.LargeFileThreshold = defaultOptions().LargeFileThreshold
	}
	if opts.DeltaFallbackFraction == 0 {
		opts.DeltaFallbackFraction = defaultOptions().DeltaFallbackFraction
	}

	destIndex := newObjectIndexer()
	for _, e := range destEntries {
		destIndex.store(e)
	}

	result := &Result{}
	linkPrimaries := make(map[entry.LinkID]string) // LinkID -> relative path of the primary

	for _, src := range sourceEntries {
		result.FilesConsidered++

		if opts.PreserveHardlinks && src.Kind == entry.KindRegular && src.Link.Valid() && src.LinkCount > 1 {
			if primary, already := linkPrimaries[src.Link]; already {
				destIndex.markSeen(src.RelativePath)
				result.Tasks = append(result.Tasks, Task{
					RelativePath: src.RelativePath,
					Action:       ActionHardlink,
					Source:       entryPtr(src),
					PrimaryPath:  primary,
				})
				continue
			}
			linkPrimaries[src.Link] = src.RelativePath
		}

		destEntry, present := destIndex.get(src.RelativePath)
		destIndex.markSeen(src.RelativePath)

		task, err := planOne(src, present, destEntry.Entry, opts)
		if err != nil {
			return nil, err
		}
		result.Tasks = append(result.Tasks, task)
	}

	if opts.DeleteEnabled {
		leftover := destIndex.remaining()
		result.FilesToDelete = len(leftover)

		if len(destEntries) > 0 {
			fraction := float64(len(leftover)) / float64(len(destEntries))
			if fraction > opts.DeleteCeiling && !opts.ForceDelete {
				return nil, synerr.SafetyThreshold(fmt.Errorf(
					"refusing to delete %d/%d (%.1f%%) of destination entries; exceeds ceiling of %.1f%%",
					len(leftover), len(destEntries), fraction*100, opts.DeleteCeiling*100))
			}
		}

		for _, d := range leftover {
			d := d
			result.Tasks = append(result.Tasks, Task{
				RelativePath: d.RelativePath,
				Action:       ActionDelete,
				Dest:         &d,
			})
		}
	}

	return result, nil
}

func entryPtr(e entry.Entry) *entry.Entry { return &e }

func planOne(src entry.Entry, destPresent bool, dest entry.Entry, opts Options) (Task, error) {
	t := Task{RelativePath: src.RelativePath, Source: entryPtr(src)}

	if src.Kind == entry.KindDirectory {
		t.Action = ActionCreateDir
		return t, nil
	}
	if src.Kind == entry.KindSymlink {
		t.Action = ActionSymlink
		return t, nil
	}

	if !destPresent {
		t.Action = ActionCopyFile
		t.Strategy = chooseStrategy(src, opts)
		return t, nil
	}

	t.Dest = entryPtr(dest)

	if kindMismatch(src, dest) {
		// Delete + Create: represented as a single CopyFile task; the
		// executor is responsible for removing the stale destination
		// entry first (its Dest field signals that to the transport).
		t.Action = ActionCopyFile
		t.Strategy = chooseStrategy(src, opts)
		return t, nil
	}

	stale, err := isStale(src, dest, opts)
	if err != nil {
		return Task{}, err
	}
	if !stale {
		t.Action = ActionSkip
		return t, nil
	}

	t.Action = ActionUpdateFile
	t.Strategy = chooseStrategy(src, opts)
	return t, nil
}

func kindMismatch(src, dest entry.Entry) bool { return src.Kind != dest.Kind }

func isStale(src, dest entry.Entry, opts Options) (bool, error) {
	switch opts.Compare {
	case CompareIgnoreTimes:
		return true, nil
	case CompareSizeOnly:
		return src.Size != dest.Size, nil
	case CompareChecksum:
		if opts.ChecksumFunc == nil {
			return src.Size != dest.Size || src.IsMoreRecentThan(dest), nil
		}
		srcSum, err := opts.ChecksumFunc(src.RelativePath, SideSource)
		if err != nil {
			return false, err
		}
		dstSum, err := opts.ChecksumFunc(src.RelativePath, SideDestination)
		if err != nil {
			return false, err
		}
		return srcSum != dstSum, nil
	default: // CompareFast
		if src.Size != dest.Size {
			return true, nil
		}
		eps := src.MTimeGranularity
		if dest.MTimeGranularity > eps {
			eps = dest.MTimeGranularity
		}
		diff := src.ModTime.Sub(dest.ModTime)
		if diff < 0 {
			diff = -diff
		}
		return diff.Nanoseconds() > int64(eps), nil
	}
}

func chooseStrategy(src entry.Entry, opts Options) Strategy {
	if opts.SparseEnabled && src.SparseHint {
		return StrategySparseRegions
	}
	if src.Size < opts.LargeFileThreshold {
		return StrategyFullCopy
	}
	return StrategyDeltaInPlace // refined to DeltaCowClone by the executor once fsprobe confirms CoW+same-device
}
