package dedup

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// renameSuffix matches the numbered-rename suffix " (N)", N >= 1 without leading zeros
var renameSuffix = regexp.MustCompile(`^ \(([1-9][0-9]*)\)$`)

// Member is one file of a SameNameGroup
type Member struct {
	Name string
	// Index is 0 for the original name and N for "stem (N).ext"
	Index uint64
}

// SameNameGroup is the family of files in a directory that share a candidate's stem and
// extension, ordered by rename index
type SameNameGroup struct {
	Candidate string
	Members   []Member
}

// RenameName formats the N-th numbered rename of filename
func RenameName(filename string, n uint64) string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	return stem + " (" + strconv.FormatUint(n, 10) + ")" + ext
}

// renameIndex reports the rename index of name relative to candidate, and whether name
// belongs to the candidate's group at all
func renameIndex(candidate, name string) (uint64, bool) {
	ext := filepath.Ext(candidate)
	if filepath.Ext(name) != ext {
		return 0, false
	}
	stem := strings.TrimSuffix(candidate, ext)
	nameStem := strings.TrimSuffix(name, ext)
	if !strings.HasPrefix(nameStem, stem) {
		return 0, false
	}
	rest := nameStem[len(stem):]
	if rest == "" {
		return 0, true
	}
	m := renameSuffix.FindStringSubmatch(rest)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FindSameNameGroup lists dir and collects the group for candidate (a bare filename)
func FindSameNameGroup(dir, candidate string) (*SameNameGroup, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &SameNameGroup{Candidate: candidate}, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return NewSameNameGroup(candidate, names), nil
}

// NewSameNameGroup builds the group for candidate from a list of directory entry names
func NewSameNameGroup(candidate string, names []string) *SameNameGroup {
	g := &SameNameGroup{Candidate: candidate}
	for _, name := range names {
		if idx, ok := renameIndex(candidate, name); ok {
			g.Members = append(g.Members, Member{Name: name, Index: idx})
		}
	}
	sort.Slice(g.Members, func(i, j int) bool {
		return g.Members[i].Index < g.Members[j].Index
	})
	return g
}

// Original returns the candidate name if a file with exactly that name exists
func (g *SameNameGroup) Original() (string, bool) {
	if len(g.Members) > 0 && g.Members[0].Index == 0 {
		return g.Members[0].Name, true
	}
	return "", false
}

// LastRename returns the highest-indexed numbered rename, if any rename exists
func (g *SameNameGroup) LastRename() (string, bool) {
	if len(g.Members) == 0 {
		return "", false
	}
	last := g.Members[len(g.Members)-1]
	if last.Index == 0 {
		return "", false
	}
	return last.Name, true
}

// Names returns member names in group order
func (g *SameNameGroup) Names() []string {
	names := make([]string, len(g.Members))
	for i, m := range g.Members {
		names[i] = m.Name
	}
	return names
}
