// Package replay keeps command outputs keyed by namespace, cache generation
// and command text, so that a recorded session can be played back later
// without a device.
//
// The file is YAML with sorted keys and double-quoted strings, so that
// outputs come back byte for byte:
//
//	version: 1
//	namespaces:
//	    "router1":
//	        0:
//	            "show clock": "12:00:01.123 UTC Mon Jan 1 2024"
//	            "show version": "\r\nCisco IOS Software ...\r\n\tuptime is 3 weeks"
//	        1:
//	            "show clock": null
//
// A null output marks a command that produced nothing usable (it timed out).
// Loading is lazy and happens at most once; saving happens at most once.
package replay

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// FormatVersion is the only file version this package reads and writes.
const FormatVersion = 1

var (
	// ErrLoad wraps every failure to read or decode the replay file.
	ErrLoad = errors.New("replay: failed to load")

	// ErrWrite wraps every failure to write the record file.
	ErrWrite = errors.New("replay: failed to write")
)

// Data maps namespace -> generation -> command -> output.
type Data map[string]map[int]map[string]*string

type file struct {
	Version    int  `yaml:"version"`
	Namespaces Data `yaml:"namespaces"`
}

// Options selects the files the store works with. Either may be empty.
type Options struct {
	// ReplayPath is read on the first Lookup
	ReplayPath string

	// RecordPath is written by Save
	RecordPath string
}

// Store holds replayed and recorded outputs. It is safe for concurrent use,
// which lets several sessions share a file under different namespaces.
type Store struct {
	opts Options

	mu       sync.Mutex
	loaded   bool
	loadErr  error
	replayed Data
	recorded Data
	saved    bool
}

// NewStore creates a store. Nothing is read until the first Lookup.
func NewStore(opts Options) *Store {
	return &Store{
		opts:     opts,
		recorded: make(Data),
	}
}

// Replaying reports whether lookups are served from a replay file.
func (s *Store) Replaying() bool {
	return s.opts.ReplayPath != ""
}

// Recording reports whether Save will write a record file.
func (s *Store) Recording() bool {
	return s.opts.RecordPath != ""
}

// Lookup returns the replayed output for a command. found is false when the
// file has no such entry; a found entry may still carry a nil output.
func (s *Store) Lookup(namespace string, generation int, command string) (output *string, found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, false, err
	}
	output, found = s.replayed[namespace][generation][command]
	return output, found, nil
}

func (s *Store) loadLocked() error {
	if s.loaded {
		return s.loadErr
	}
	s.loaded = true

	if !s.Replaying() {
		s.replayed = make(Data)
		return nil
	}

	raw, err := os.ReadFile(s.opts.ReplayPath)
	if err != nil {
		s.loadErr = fmt.Errorf("%w %s: %w", ErrLoad, s.opts.ReplayPath, err)
		return s.loadErr
	}
	data, err := Decode(raw)
	if err != nil {
		s.loadErr = fmt.Errorf("%w %s: %w", ErrLoad, s.opts.ReplayPath, err)
		return s.loadErr
	}
	s.replayed = data
	return nil
}

// Record stores the output of a command. Recording the same key twice keeps
// the last value.
func (s *Store) Record(namespace string, generation int, command string, output *string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gens, ok := s.recorded[namespace]
	if !ok {
		gens = make(map[int]map[string]*string)
		s.recorded[namespace] = gens
	}
	cmds, ok := gens[generation]
	if !ok {
		cmds = make(map[string]*string)
		gens[generation] = cmds
	}
	if output != nil {
		v := *output
		output = &v
	}
	cmds[command] = output
}

// Recorded returns a deep copy of everything recorded so far.
func (s *Store) Recorded() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorded.clone()
}

// Namespaces lists the recorded namespaces in sorted order.
func (s *Store) Namespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorded.namespaces()
}

// Len returns the number of recorded outputs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, gens := range s.recorded {
		for _, cmds := range gens {
			n += len(cmds)
		}
	}
	return n
}

// Save writes the record file once; later calls do nothing. Namespaces
// already in the file that were not recorded in this run are kept, recorded
// namespaces replace their previous content.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Recording() || s.saved {
		return nil
	}
	s.saved = true

	merged := make(Data)
	raw, err := os.ReadFile(s.opts.RecordPath)
	switch {
	case err == nil:
		existing, err := Decode(raw)
		if err != nil {
			return fmt.Errorf("%w %s: refusing to overwrite unreadable file: %w", ErrWrite, s.opts.RecordPath, err)
		}
		merged = existing
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w %s: %w", ErrWrite, s.opts.RecordPath, err)
	}
	for ns, gens := range s.recorded.clone() {
		merged[ns] = gens
	}

	out, err := Encode(merged)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrWrite, s.opts.RecordPath, err)
	}
	if err := writeFileAtomic(s.opts.RecordPath, out); err != nil {
		return fmt.Errorf("%w %s: %w", ErrWrite, s.opts.RecordPath, err)
	}
	return nil
}

// Encode serializes data as a version 1 document. Equal data always encodes
// to identical bytes, and Decode returns exactly the data that was encoded.
func Encode(data Data) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(4)
	if err := enc.Encode(data.document()); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a version 1 document. Unknown fields and other versions are
// rejected; nothing in the input is ever executed.
func Decode(raw []byte) (Data, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty document")
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if f.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported format version %d", f.Version)
	}
	if f.Namespaces == nil {
		f.Namespaces = make(Data)
	}
	return f.Namespaces, nil
}

func (d Data) clone() Data {
	out := make(Data, len(d))
	for ns, gens := range d {
		g := make(map[int]map[string]*string, len(gens))
		for gen, cmds := range gens {
			c := make(map[string]*string, len(cmds))
			for cmd, output := range cmds {
				if output != nil {
					v := *output
					output = &v
				}
				c[cmd] = output
			}
			g[gen] = c
		}
		out[ns] = g
	}
	return out
}

// document builds the YAML tree with sorted keys. Strings are always double
// quoted: plain and block scalars lose leading blank lines and cannot hold
// tabs or control characters, which device output is full of.
func (d Data) document() *yaml.Node {
	namespaces := mapping()
	for _, ns := range d.namespaces() {
		gens := d[ns]
		genList := make([]int, 0, len(gens))
		for gen := range gens {
			genList = append(genList, gen)
		}
		sort.Ints(genList)

		genNode := mapping()
		for _, gen := range genList {
			cmds := gens[gen]
			cmdList := make([]string, 0, len(cmds))
			for cmd := range cmds {
				cmdList = append(cmdList, cmd)
			}
			sort.Strings(cmdList)

			cmdNode := mapping()
			for _, cmd := range cmdList {
				cmdNode.Content = append(cmdNode.Content, quoted(cmd), outputNode(cmds[cmd]))
			}
			genNode.Content = append(genNode.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(gen)}, cmdNode)
		}
		namespaces.Content = append(namespaces.Content, quoted(ns), genNode)
	}

	root := mapping()
	root.Content = append(root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "version"},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(FormatVersion)},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "namespaces"},
		namespaces,
	)
	return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
}

func mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

// quoted renders s as a double-quoted string. Bytes that are not UTF-8 go
// into a !!binary scalar, which decodes back into the same string.
func quoted(s string) *yaml.Node {
	if !utf8.ValidString(s) {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!binary", Value: base64.StdEncoding.EncodeToString([]byte(s))}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.DoubleQuotedStyle, Value: s}
}

func outputNode(out *string) *yaml.Node {
	if out == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
	return quoted(*out)
}

func (d Data) namespaces() []string {
	names := make([]string, 0, len(d))
	for ns := range d {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names
}

func writeFileAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(payload); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
