package repo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/grit/pkg/object"
)

// ReflogEntry is one line of .git/logs/<ref>.
type ReflogEntry struct {
	Ref       string
	OldHash   object.Hash
	NewHash   object.Hash
	Committer object.Signature
	Message   string
}

// UpdateRefWithLog updates name like UpdateRef and appends a reflog line in
// git's format: "<old> <new> <ident> <unix> <tz>\t<message>". A zero
// who.When means now.
func (r *Repo) UpdateRefWithLog(name string, h object.Hash, who object.Signature, message string) error {
	if who.When.IsZero() {
		who.When = time.Now()
	}
	old, err := r.resolveRef(name, 0)
	if err != nil {
		old = object.ZeroHash
	}
	if err := r.UpdateRef(name, h); err != nil {
		return err
	}
	if err := r.appendReflog(name, old, h, who, message); err != nil {
		return fmt.Errorf("update ref %q: ref updated but reflog append failed: %w", name, err)
	}
	return nil
}

func (r *Repo) appendReflog(ref string, oldHash, newHash object.Hash, who object.Signature, message string) error {
	logPath := filepath.Join(r.GitDir, "logs", filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("reflog mkdir: %w", err)
	}

	message = strings.ReplaceAll(strings.TrimSpace(message), "\n", " ")
	line := fmt.Sprintf("%s %s %s\t%s\n", oldHash, newHash, who, message)

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reflog open: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("reflog write: %w", err)
	}
	return nil
}

// ReadReflog returns the reflog of ref, newest first, at most limit entries
// when limit > 0. A ref without a reflog has no entries. Malformed lines are
// skipped.
func (r *Repo) ReadReflog(ref string, limit int) ([]ReflogEntry, error) {
	logPath := filepath.Join(r.GitDir, "logs", filepath.FromSlash(ref))
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read reflog: %w", err)
	}
	defer f.Close()

	var entries []ReflogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if e, ok := parseReflogLine(ref, scanner.Text()); ok {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read reflog: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func parseReflogLine(ref, line string) (ReflogEntry, bool) {
	head, message, _ := strings.Cut(line, "\t")
	oldHex, rest, ok := strings.Cut(head, " ")
	if !ok {
		return ReflogEntry{}, false
	}
	newHex, ident, ok := strings.Cut(rest, " ")
	if !ok {
		return ReflogEntry{}, false
	}
	oldHash, err := object.ParseHash(oldHex)
	if err != nil {
		return ReflogEntry{}, false
	}
	newHash, err := object.ParseHash(newHex)
	if err != nil {
		return ReflogEntry{}, false
	}
	who, err := object.ParseSignature(ident)
	if err != nil {
		return ReflogEntry{}, false
	}
	return ReflogEntry{
		Ref:       ref,
		OldHash:   oldHash,
		NewHash:   newHash,
		Committer: who,
		Message:   message,
	}, true
}
