package remote

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/odvcencio/grit/pkg/object"
	"github.com/odvcencio/grit/pkg/pktline"
)

// Capability names used by this client.
const (
	CapMultiAck    = "multi_ack"
	CapSideBand64k = "side-band-64k"
	CapOfsDelta    = "ofs-delta"
	CapNoProgress  = "no-progress"
	CapAgent       = "agent"
	CapSymref      = "symref"
)

// Capabilities is the set of capabilities a server advertised. Entries of
// the form name=value keep their values; a name may repeat (symref).
type Capabilities struct {
	set map[string][]string
}

// ParseCapabilities parses a space-separated capability list.
func ParseCapabilities(raw string) Capabilities {
	caps := Capabilities{set: make(map[string][]string)}
	for _, field := range strings.Fields(raw) {
		name, value, hasValue := strings.Cut(field, "=")
		if hasValue {
			caps.set[name] = append(caps.set[name], value)
		} else if _, ok := caps.set[name]; !ok {
			caps.set[name] = nil
		}
	}
	return caps
}

// Has returns true if the capability is present.
func (c Capabilities) Has(name string) bool {
	_, ok := c.set[name]
	return ok
}

// Get returns the first value of a name=value capability.
func (c Capabilities) Get(name string) (string, bool) {
	values := c.set[name]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Symref returns the target of a symbolic ref announced with
// symref=<name>:<target>.
func (c Capabilities) Symref(name string) (string, bool) {
	for _, v := range c.set[CapSymref] {
		if from, to, ok := strings.Cut(v, ":"); ok && from == name {
			return to, true
		}
	}
	return "", false
}

// Len returns the number of distinct capability names.
func (c Capabilities) Len() int {
	return len(c.set)
}

// String returns the capabilities sorted and space-separated.
func (c Capabilities) String() string {
	names := make([]string, 0, len(c.set))
	for k, values := range c.set {
		if len(values) == 0 {
			names = append(names, k)
			continue
		}
		for _, v := range values {
			names = append(names, k+"="+v)
		}
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}

// Ref is one advertised reference.
type Ref struct {
	Name string
	Hash object.Hash
}

// IsTag reports whether the ref lives under refs/tags/.
func (r Ref) IsTag() bool {
	return strings.HasPrefix(r.Name, "refs/tags/")
}

// IsBranch reports whether the ref lives under refs/heads/.
func (r Ref) IsBranch() bool {
	return strings.HasPrefix(r.Name, "refs/heads/")
}

// IsPeeled reports whether the ref is a peeled tag entry ("^{}" suffix).
func (r Ref) IsPeeled() bool {
	return strings.HasSuffix(r.Name, "^{}")
}

// Advertisement is the server's answer to ref discovery. Refs keep the
// order the server sent them in.
type Advertisement struct {
	Capabilities Capabilities
	Refs         []Ref
}

// Lookup returns the advertised ref with the given name.
func (a *Advertisement) Lookup(name string) (Ref, bool) {
	for _, r := range a.Refs {
		if r.Name == name {
			return r, true
		}
	}
	return Ref{}, false
}

// emptyRepoRef is the pseudo ref an empty repository advertises so it can
// still send capabilities.
const emptyRepoRef = "capabilities^{}"

// ParseAdvertisement reads a smart HTTP upload-pack ref advertisement: a
// "# service=git-upload-pack" line, a flush, then ref lines up to the next
// flush. The first ref line carries the capability list after a NUL.
func ParseAdvertisement(r io.Reader) (*Advertisement, error) {
	pr := pktline.NewReader(r)

	pkt, err := pr.ReadPacket()
	if err != nil {
		return nil, unexpectedEnd(err, "unexpected preamble")
	}
	if pkt.Flush || !strings.HasPrefix(pkt.String(), "# service="+uploadPackService) {
		return nil, pktline.Errorf("unexpected preamble")
	}

	pkt, err = pr.ReadPacket()
	if err != nil {
		return nil, unexpectedEnd(err, "expected flush")
	}
	if !pkt.Flush {
		return nil, pktline.Errorf("expected flush")
	}

	adv := &Advertisement{Capabilities: ParseCapabilities("")}
	first := true
	for {
		pkt, err := pr.ReadPacket()
		if err != nil {
			return nil, unexpectedEnd(err, "ref advertisement not terminated by flush")
		}
		if pkt.Flush {
			return adv, nil
		}

		line := pkt.String()
		if first {
			var caps string
			line, caps, _ = strings.Cut(line, "\x00")
			adv.Capabilities = ParseCapabilities(caps)
			first = false
		}
		ref, err := parseRefLine(line)
		if err != nil {
			return nil, err
		}
		if ref.Name == emptyRepoRef && ref.Hash.IsZero() {
			continue
		}
		adv.Refs = append(adv.Refs, ref)
	}
}

func parseRefLine(line string) (Ref, error) {
	hex, name, ok := strings.Cut(line, " ")
	if !ok || name == "" {
		return Ref{}, pktline.Errorf("malformed ref line %q", line)
	}
	h, err := object.ParseHash(hex)
	if err != nil {
		return Ref{}, &pktline.ProtocolError{Msg: fmt.Sprintf("malformed ref line %q", line), Err: err}
	}
	return Ref{Name: name, Hash: h}, nil
}

func unexpectedEnd(err error, msg string) error {
	if errors.Is(err, io.EOF) {
		return &pktline.ProtocolError{Msg: msg, Err: io.ErrUnexpectedEOF}
	}
	return err
}

// RemoteError is a fatal error the server reported on side-band channel 3.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}
