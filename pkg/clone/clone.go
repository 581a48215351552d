// Package clone drives a full clone over a smart HTTP transport: discover
// refs, fetch one pack, explode it into loose objects, write refs and check
// out the remote HEAD.
package clone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/odvcencio/grit/pkg/object"
	"github.com/odvcencio/grit/pkg/remote"
	"github.com/odvcencio/grit/pkg/repo"
)

// Transport is the part of *remote.Client a clone needs.
type Transport interface {
	DiscoverRefs(ctx context.Context) (*remote.Advertisement, error)
	FetchPack(ctx context.Context, wants ...object.Hash) (io.ReadCloser, error)
}

// Options tunes a clone.
type Options struct {
	// RemoteName names the remote in config and refs/remotes (default "origin").
	RemoteName string
	// URL is recorded as the remote's url in .git/config when set.
	URL string
	// AllRefs asks for every advertised ref instead of only the first one.
	AllRefs bool
	// Identity signs reflog entries (default "grit <grit@localhost>").
	Identity object.Signature
}

// Cloner runs clones. Logger and Progress may be nil.
type Cloner struct {
	Transport Transport
	Logger    *slog.Logger
	// Progress receives one human-readable line per finished phase.
	Progress io.Writer
	Options  Options
	// OnState is called on every state transition.
	OnState func(State)
}

// Result describes a finished clone.
type Result struct {
	Repo      *repo.Repo
	Refs      []remote.Ref // advertised refs
	Written   []string     // local refs written, excluding HEAD
	HeadRef   string       // ref local HEAD points at
	HeadID    object.Hash
	Stats     object.UnpackStats
	PackBytes int64
	Checkout  repo.CheckoutStats
}

type run struct {
	*Cloner
	ctx    context.Context
	logger *slog.Logger
	opts   Options
	state  State
	res    *Result
}

// Run clones into dest, which must not exist or be an empty directory.
func (c *Cloner) Run(ctx context.Context, dest string) (*Result, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts := c.Options
	if opts.RemoteName == "" {
		opts.RemoteName = "origin"
	}
	if opts.Identity.Name == "" {
		opts.Identity.Name = "grit"
	}
	if opts.Identity.Email == "" {
		opts.Identity.Email = "grit@localhost"
	}
	r := &run{Cloner: c, ctx: ctx, logger: logger, opts: opts, res: &Result{}}
	if err := r.run(dest); err != nil {
		r.logger.Error("clone failed", "state", r.state.String(), "err", err)
		return r.res, &Failure{State: r.state, Err: err}
	}
	return r.res, nil
}

func (r *run) enter(s State) {
	r.state = s
	r.logger.Debug("clone state", "state", s.String())
	if r.OnState != nil {
		r.OnState(s)
	}
}

func (r *run) progressf(format string, args ...any) {
	if r.Progress != nil {
		fmt.Fprintf(r.Progress, format, args...)
	}
}

func (r *run) run(dest string) error {
	r.enter(Discovering)
	if err := checkDestination(dest); err != nil {
		return err
	}
	adv, err := r.Transport.DiscoverRefs(r.ctx)
	if err != nil {
		return err
	}
	if len(adv.Refs) == 0 {
		return ErrNoRefs
	}
	r.res.Refs = adv.Refs

	r.enter(Negotiating)
	wants := selectWants(adv.Refs, r.opts.AllRefs)
	r.logger.Info("requesting pack", "wants", len(wants), "refs", len(adv.Refs))

	r.enter(Decoding)
	pack, err := r.Transport.FetchPack(r.ctx, wants...)
	if err != nil {
		return err
	}
	defer pack.Close()

	rp, err := repo.Init(dest)
	if err != nil {
		return err
	}
	r.res.Repo = rp

	pr, err := object.NewPackReader(pack)
	if err != nil {
		return err
	}
	r.logger.Info("receiving pack", "objects", pr.Header().NumObjects)

	r.enter(Storing)
	unpacker := object.NewUnpacker(rp.Store, r.logger)
	for {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		obj, err := pr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := unpacker.Add(obj); err != nil {
			return err
		}
	}
	r.res.PackBytes = pr.BytesRead()
	stored := unpacker.Stats()
	r.progressf("Receiving objects: %d, done.\n", pr.Header().NumObjects)
	if stored.SkippedTags > 0 {
		r.logger.Info("skipped annotated tags", "count", stored.SkippedTags)
	}

	r.enter(ResolvingDeltas)
	stats, err := unpacker.Finish()
	r.res.Stats = stats
	if err != nil {
		return err
	}
	r.progressf("Resolving deltas: %d, done.\n", stats.Resolved)
	roots := make([]object.Hash, 0, len(wants))
	for _, id := range wants {
		if !unpacker.SkippedTag(id) {
			roots = append(roots, id)
		}
	}
	if _, err := rp.Store.ReachableSet(roots); err != nil {
		return fmt.Errorf("connectivity check: %w", err)
	}

	r.enter(WritingRefs)
	if err := r.writeRefs(rp, adv); err != nil {
		return err
	}

	r.enter(CheckingOut)
	if err := r.checkoutHead(rp, adv); err != nil {
		return err
	}

	r.enter(Done)
	r.logger.Info("clone complete",
		"head", r.res.HeadRef,
		"objects", stats.Total(),
		"pack_bytes", r.res.PackBytes)
	return nil
}

// checkDestination fails unless dest is missing or an empty directory.
func checkDestination(dest string) error {
	if strings.TrimSpace(dest) == "" {
		return errors.New("destination directory is required")
	}
	entries, err := os.ReadDir(dest)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("destination %q: %w", dest, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("destination path %q already exists and is not an empty directory", dest)
	}
	return nil
}

// selectWants picks the ids to request: the first advertised ref, which
// servers send as HEAD, or every distinct id of a non-peeled ref.
func selectWants(refs []remote.Ref, all bool) []object.Hash {
	if !all {
		return []object.Hash{refs[0].Hash}
	}
	seen := make(map[object.Hash]struct{}, len(refs))
	wants := make([]object.Hash, 0, len(refs))
	for _, ref := range refs {
		if ref.IsPeeled() {
			continue
		}
		if _, dup := seen[ref.Hash]; dup {
			continue
		}
		seen[ref.Hash] = struct{}{}
		wants = append(wants, ref.Hash)
	}
	return wants
}

// LocalRefName maps an advertised ref into the local namespace: tags keep
// their name, branches and other refs move under refs/remotes/<remote>/.
// HEAD and peeled tag entries have no local counterpart.
func LocalRefName(remoteName, name string) (string, bool) {
	switch {
	case name == "HEAD", strings.HasSuffix(name, "^{}"):
		return "", false
	case strings.HasPrefix(name, "refs/tags/"):
		return name, true
	case strings.HasPrefix(name, "refs/heads/"):
		return "refs/remotes/" + remoteName + "/" + strings.TrimPrefix(name, "refs/heads/"), true
	case strings.HasPrefix(name, "refs/"):
		return "refs/remotes/" + remoteName + "/" + strings.TrimPrefix(name, "refs/"), true
	default:
		return "", false
	}
}

func (r *run) writeRefs(rp *repo.Repo, adv *remote.Advertisement) error {
	remoteName := r.opts.RemoteName
	if r.opts.URL != "" {
		if err := rp.SetRemote(remoteName, r.opts.URL); err != nil {
			return err
		}
	}

	for _, ref := range adv.Refs {
		local, ok := LocalRefName(remoteName, ref.Name)
		if !ok {
			continue
		}
		// Refs outside the requested history point at objects we never
		// received; writing them would leave dangling refs.
		if !rp.Store.Has(ref.Hash) {
			r.logger.Debug("skipping ref without objects", "ref", ref.Name, "id", ref.Hash)
			continue
		}
		if err := rp.UpdateRef(local, ref.Hash); err != nil {
			return err
		}
		r.res.Written = append(r.res.Written, local)
		r.logger.Debug("wrote ref", "remote", ref.Name, "local", local, "id", ref.Hash)
	}
	return nil
}

// headTarget finds the advertised ref the remote HEAD points at: another
// ref with the same id, preferring the symref capability target and then
// branches.
func headTarget(adv *remote.Advertisement) (remote.Ref, error) {
	head, ok := adv.Lookup("HEAD")
	if !ok {
		return remote.Ref{}, fmt.Errorf("remote did not advertise HEAD: %w", ErrNoHeadTarget)
	}

	var candidates []remote.Ref
	for _, ref := range adv.Refs {
		if ref.Name != "HEAD" && !ref.IsPeeled() && ref.Hash == head.Hash {
			candidates = append(candidates, ref)
		}
	}
	if len(candidates) == 0 {
		return remote.Ref{}, ErrNoHeadTarget
	}
	if symref, ok := adv.Capabilities.Symref("HEAD"); ok {
		for _, ref := range candidates {
			if ref.Name == symref {
				return ref, nil
			}
		}
	}
	for _, ref := range candidates {
		if ref.IsBranch() {
			return ref, nil
		}
	}
	return candidates[0], nil
}

func (r *run) checkoutHead(rp *repo.Repo, adv *remote.Advertisement) error {
	target, err := headTarget(adv)
	if err != nil {
		return err
	}
	remoteName := r.opts.RemoteName

	msg := "clone: from " + r.opts.URL
	if r.opts.URL == "" {
		msg = "clone"
	}
	if err := rp.UpdateRefWithLog(target.Name, target.Hash, r.opts.Identity, msg); err != nil {
		return err
	}
	if err := rp.WriteSymbolicRef("HEAD", target.Name); err != nil {
		return err
	}
	if branch, ok := strings.CutPrefix(target.Name, "refs/heads/"); ok {
		if local, ok := LocalRefName(remoteName, target.Name); ok {
			if err := rp.WriteSymbolicRef("refs/remotes/"+remoteName+"/HEAD", local); err != nil {
				return err
			}
		}
		if err := rp.SetBranchUpstream(branch, remoteName); err != nil {
			return err
		}
	}
	r.res.HeadRef = target.Name
	r.res.HeadID = target.Hash

	stats, err := rp.CheckoutCommit(target.Hash)
	r.res.Checkout = stats
	if err != nil {
		return err
	}
	r.progressf("Checking out files: %d, done.\n", stats.Files+stats.Symlinks)
	return nil
}
