package object

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// TreeObj
// ---------------------------------------------------------------------------

// MarshalTree serializes a TreeObj in git's binary tree format. Entries are
// sorted by Name (byte-wise) first, so two trees holding the same entries
// always encode to identical bytes and hash to the same id. Each entry is:
//
//	<mode> <name>\0<20 raw id bytes>
func MarshalTree(tr *TreeObj) []byte {
	sorted := make([]TreeEntry, len(tr.Entries))
	copy(sorted, tr.Entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	size := 0
	for _, e := range sorted {
		size += len(e.Mode) + len(e.Name) + 2 + HashSize
	}
	buf := make([]byte, 0, size)
	for _, e := range sorted {
		mode := e.Mode
		if mode == "" {
			mode = TreeModeFile
		}
		buf = append(buf, mode...)
		buf = append(buf, ' ')
		buf = append(buf, e.Name...)
		buf = append(buf, 0)
		buf = append(buf, e.Hash[:]...)
	}
	return buf
}

// UnmarshalTree parses a TreeObj from git's binary tree format.
func UnmarshalTree(data []byte) (*TreeObj, error) {
	tr := &TreeObj{}
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp <= 0 {
			return nil, formatErrorf("unmarshal tree: malformed entry mode")
		}
		mode, err := normalizeTreeMode(string(data[:sp]))
		if err != nil {
			return nil, fmt.Errorf("unmarshal tree: %w", err)
		}
		data = data[sp+1:]

		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, formatErrorf("unmarshal tree: entry name not terminated")
		}
		name := string(data[:nul])
		data = data[nul+1:]

		if len(data) < HashSize {
			return nil, formatErrorf("unmarshal tree: entry %q: truncated object id", name)
		}
		var h Hash
		copy(h[:], data[:HashSize])
		data = data[HashSize:]

		tr.Entries = append(tr.Entries, TreeEntry{Mode: mode, Name: name, Hash: h})
	}
	return tr, nil
}

func normalizeTreeMode(mode string) (string, error) {
	switch mode {
	case TreeModeDir, "040000":
		return TreeModeDir, nil
	case TreeModeFile, "100664":
		return TreeModeFile, nil
	case TreeModeExecutable:
		return TreeModeExecutable, nil
	case TreeModeSymlink:
		return TreeModeSymlink, nil
	case TreeModeGitlink:
		return TreeModeGitlink, nil
	default:
		return "", formatErrorf("unknown mode %q", mode)
	}
}

// ---------------------------------------------------------------------------
// CommitObj
// ---------------------------------------------------------------------------

// MarshalCommit serializes a CommitObj:
//
//	tree H
//	parent H     (zero or more)
//	author A
//	committer C
//	<extra headers, continuation lines prefixed by a space>
//
//	message
func MarshalCommit(c *CommitObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.TreeHash)
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author)
	fmt.Fprintf(&buf, "committer %s\n", c.Committer)
	for _, h := range c.ExtraHeaders {
		fmt.Fprintf(&buf, "%s %s\n", h.Key, strings.ReplaceAll(h.Value, "\n", "\n "))
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// UnmarshalCommit parses a CommitObj from its serialized form.
func UnmarshalCommit(data []byte) (*CommitObj, error) {
	header, message, ok := bytes.Cut(data, []byte("\n\n"))
	if !ok {
		// A commit with an empty message may end right after its headers.
		header = bytes.TrimSuffix(data, []byte("\n"))
		message = nil
	}

	c := &CommitObj{Message: string(message)}
	sawTree := false
	for _, line := range strings.Split(string(header), "\n") {
		if strings.HasPrefix(line, " ") {
			if len(c.ExtraHeaders) == 0 {
				return nil, formatErrorf("unmarshal commit: continuation line without header")
			}
			last := &c.ExtraHeaders[len(c.ExtraHeaders)-1]
			last.Value += "\n" + line[1:]
			continue
		}
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, formatErrorf("unmarshal commit: malformed header line %q", line)
		}
		switch key {
		case "tree":
			h, err := ParseHash(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: tree: %w", err)
			}
			c.TreeHash = h
			sawTree = true
		case "parent":
			h, err := ParseHash(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: parent: %w", err)
			}
			c.Parents = append(c.Parents, h)
		case "author":
			sig, err := ParseSignature(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: author: %w", err)
			}
			c.Author = sig
		case "committer":
			sig, err := ParseSignature(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: committer: %w", err)
			}
			c.Committer = sig
		default:
			c.ExtraHeaders = append(c.ExtraHeaders, ExtraHeader{Key: key, Value: val})
		}
	}
	if !sawTree {
		return nil, formatErrorf("unmarshal commit: missing tree header")
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Signature
// ---------------------------------------------------------------------------

// String formats the signature as "Name <email> unix-seconds +hhmm".
func (s Signature) String() string {
	when := s.When
	if when.IsZero() {
		when = time.Unix(0, 0).UTC()
	}
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, when.Unix(), when.Format("-0700"))
}

// ParseSignature parses "Name <email> unix-seconds +hhmm".
func ParseSignature(s string) (Signature, error) {
	open := strings.LastIndexByte(s, '<')
	closeIdx := strings.LastIndexByte(s, '>')
	if open < 0 || closeIdx < open {
		return Signature{}, formatErrorf("signature %q: missing email", s)
	}
	sig := Signature{
		Name:  strings.TrimSpace(s[:open]),
		Email: s[open+1 : closeIdx],
	}

	fields := strings.Fields(s[closeIdx+1:])
	if len(fields) == 0 {
		return sig, nil
	}
	secs, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Signature{}, formatErrorf("signature %q: bad timestamp", s)
	}
	loc := time.UTC
	if len(fields) > 1 {
		loc, err = parseTimezone(fields[1])
		if err != nil {
			return Signature{}, fmt.Errorf("signature %q: %w", s, err)
		}
	}
	sig.When = time.Unix(secs, 0).In(loc)
	return sig, nil
}

func parseTimezone(tz string) (*time.Location, error) {
	if len(tz) != 5 || (tz[0] != '+' && tz[0] != '-') {
		return nil, formatErrorf("bad timezone %q", tz)
	}
	hours, err1 := strconv.Atoi(tz[1:3])
	mins, err2 := strconv.Atoi(tz[3:5])
	if err1 != nil || err2 != nil {
		return nil, formatErrorf("bad timezone %q", tz)
	}
	offset := hours*3600 + mins*60
	if tz[0] == '-' {
		offset = -offset
	}
	return time.FixedZone(tz, offset), nil
}
