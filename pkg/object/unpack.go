package object

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
)

// UnpackStats counts what an Unpacker did with the entries it was given.
type UnpackStats struct {
	Stored           int // non-delta entries written to the store
	Resolved         int // ref-deltas reconstructed and written
	SkippedTags      int // annotated tags, which are not stored
	SkippedOfsDeltas int // ofs-deltas, which are never resolved
}

// Total returns the number of objects written to the store.
func (s UnpackStats) Total() int {
	return s.Stored + s.Resolved
}

// Unpacker writes decoded pack entries into a Store. Whole objects are
// stored as they arrive; REF_DELTA entries are held until Finish, which
// resolves them in dependency order so a delta may name another delta's
// result as its base.
type Unpacker struct {
	store   *Store
	logger  *slog.Logger
	waiting map[Hash][][]byte
	tags    map[Hash][]byte // skipped tags, kept only as delta bases
	queued  int
	stats   UnpackStats
}

// NewUnpacker returns an Unpacker writing into store. A nil logger discards
// diagnostics.
func NewUnpacker(store *Store, logger *slog.Logger) *Unpacker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Unpacker{
		store:   store,
		logger:  logger,
		waiting: make(map[Hash][][]byte),
		tags:    make(map[Hash][]byte),
	}
}

// Stats returns the counts accumulated so far.
func (u *Unpacker) Stats() UnpackStats {
	return u.stats
}

// Pending returns the number of deltas still waiting for their base.
func (u *Unpacker) Pending() int {
	return u.queued
}

// Add consumes one decoded pack entry.
func (u *Unpacker) Add(obj *PackObject) error {
	switch obj.Type {
	case PackCommit, PackTree, PackBlob:
		objType, _ := obj.Type.ObjectType()
		if _, err := u.store.Write(objType, obj.Data); err != nil {
			return err
		}
		u.stats.Stored++
	case PackTag:
		u.tags[HashObject(TypeTag, obj.Data)] = obj.Data
		u.stats.SkippedTags++
		u.logger.Debug("skipping annotated tag", "offset", obj.Offset)
	case PackOfsDelta:
		u.stats.SkippedOfsDeltas++
		u.logger.Warn("skipping unsupported ofs-delta", "offset", obj.Offset, "base_offset", obj.BaseOffset())
	case PackRefDelta:
		u.waiting[obj.BaseHash] = append(u.waiting[obj.BaseHash], obj.Data)
		u.queued++
	default:
		return formatErrorf("unknown pack object type %d", obj.Type)
	}
	return nil
}

// Finish resolves every queued delta. Bases may come from this pack or from
// objects already in the store. Deltas against skipped tags are applied in
// memory and counted as skipped tags. A delta whose base never becomes
// available yields an error wrapping ErrNotFound.
func (u *Unpacker) Finish() (UnpackStats, error) {
	ready := make([]Hash, 0, len(u.waiting))
	for base := range u.waiting {
		if _, ok := u.tags[base]; ok || u.store.Has(base) {
			ready = append(ready, base)
		}
	}

	for len(ready) > 0 {
		baseID := ready[len(ready)-1]
		ready = ready[:len(ready)-1]

		deltas := u.waiting[baseID]
		delete(u.waiting, baseID)
		if len(deltas) == 0 {
			continue
		}
		base, err := u.deltaBase(baseID)
		if err != nil {
			return u.stats, fmt.Errorf("resolve delta base %s: %w", baseID, err)
		}
		for _, delta := range deltas {
			target, err := ApplyDelta(base, delta)
			if err != nil {
				return u.stats, fmt.Errorf("resolve delta against %s: %w", baseID, err)
			}
			u.queued--
			var id Hash
			if target.Type == TypeTag {
				id = target.Hash()
				u.tags[id] = target.Content
				u.stats.SkippedTags++
				u.logger.Debug("skipping deltified annotated tag", "base", baseID, "id", id)
			} else {
				if id, err = u.store.WriteObject(target); err != nil {
					return u.stats, err
				}
				u.stats.Resolved++
				u.logger.Debug("resolved delta", "base", baseID, "id", id, "type", target.Type)
			}
			if _, ok := u.waiting[id]; ok {
				ready = append(ready, id)
			}
		}
	}

	if len(u.waiting) > 0 {
		missing := make([]Hash, 0, len(u.waiting))
		for base := range u.waiting {
			missing = append(missing, base)
		}
		slices.SortFunc(missing, func(a, b Hash) int { return slices.Compare(a[:], b[:]) })
		return u.stats, fmt.Errorf("delta base %s (%d unresolved deltas, %d missing bases): %w",
			missing[0], u.queued, len(missing), ErrNotFound)
	}
	return u.stats, nil
}

// SkippedTag reports whether id is an annotated tag that was received but
// not stored.
func (u *Unpacker) SkippedTag(id Hash) bool {
	_, ok := u.tags[id]
	return ok
}

func (u *Unpacker) deltaBase(id Hash) (*Object, error) {
	if data, ok := u.tags[id]; ok {
		return &Object{Type: TypeTag, Content: data}, nil
	}
	return u.store.Read(id)
}

// Unpack decodes the pack read from r into store and resolves its deltas.
func Unpack(store *Store, r io.Reader, logger *slog.Logger) (UnpackStats, error) {
	pr, err := NewPackReader(r)
	if err != nil {
		return UnpackStats{}, err
	}
	u := NewUnpacker(store, logger)
	for {
		obj, err := pr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return u.Stats(), err
		}
		if err := u.Add(obj); err != nil {
			return u.Stats(), err
		}
	}
	return u.Finish()
}
