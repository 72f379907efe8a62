package ingest

import (
	"context"
	"errors"
	"fmt"
)

// Strategy maps an event to a video id using one identifier. ok is false when
// the event lacks the identifier or no video carries it.
type Strategy struct {
	Name   string
	Lookup func(ctx context.Context, ev Event) (id VideoID, ok bool, err error)
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	VideoID  VideoID
	Strategy string
}

// Resolver tries strategies in order and stops at the first match.
type Resolver struct {
	strategies []Strategy
}

// NewResolver returns a Resolver over the given ordered strategies.
func NewResolver(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// DefaultResolver orders lookups from most specific to least: upload ref,
// asset ref, job id, then the echoed passthrough id.
func DefaultResolver(store Store) *Resolver {
	return NewResolver(
		ByUploadRef(store),
		ByAssetRef(store),
		ByJobID(store),
		ByPassthrough(),
	)
}

// Resolve returns the video an event belongs to. ok is false when no
// strategy matched; the caller must drop the event rather than guess.
func (r *Resolver) Resolve(ctx context.Context, ev Event) (Resolution, bool, error) {
	for _, s := range r.strategies {
		id, ok, err := s.Lookup(ctx, ev)
		if err != nil {
			return Resolution{}, false, fmt.Errorf("resolve by %s: %w", s.Name, err)
		}
		if ok {
			return Resolution{VideoID: id, Strategy: s.Name}, true, nil
		}
	}
	return Resolution{}, false, nil
}

// ByUploadRef looks up by the upload slot id.
func ByUploadRef(store Store) Strategy {
	return storeStrategy("upload_ref", func(ev Event) string { return ev.IDs.UploadRef }, store.GetByUploadRef)
}

// ByAssetRef looks up by the provider asset id.
func ByAssetRef(store Store) Strategy {
	return storeStrategy("asset_ref", func(ev Event) string { return ev.IDs.AssetRef }, store.GetByAssetRef)
}

// ByJobID looks up by the live transcode job id.
func ByJobID(store Store) Strategy {
	return storeStrategy("job_id", func(ev Event) string { return ev.IDs.JobID }, store.GetByJobID)
}

// ByPassthrough trusts the echoed passthrough id as the video id without a
// lookup. A missing video surfaces later as ErrVideoNotFound.
func ByPassthrough() Strategy {
	return Strategy{
		Name: "passthrough",
		Lookup: func(_ context.Context, ev Event) (VideoID, bool, error) {
			if ev.IDs.PassthroughID == "" {
				return "", false, nil
			}
			return VideoID(ev.IDs.PassthroughID), true, nil
		},
	}
}

func storeStrategy(name string, key func(Event) string, get func(context.Context, string) (*Video, error)) Strategy {
	return Strategy{
		Name: name,
		Lookup: func(ctx context.Context, ev Event) (VideoID, bool, error) {
			k := key(ev)
			if k == "" {
				return "", false, nil
			}
			v, err := get(ctx, k)
			if err != nil {
				if errors.Is(err, ErrVideoNotFound) {
					return "", false, nil
				}
				return "", false, err
			}
			return v.ID, true, nil
		},
	}
}
