// Package chipdb holds the Super-I/O chip database: compiled-in vendor
// tables, optional administrator overrides, and driver priority groups.
package chipdb

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"
)

//go:embed data/*.toml
var dataFS embed.FS

// compiledFamilies lists the vendor tables in search order. ITE comes first
// because its 16-bit IDs would otherwise be claimed by 8-bit SMSC and
// Winbond entries (SMSC 0x86xx vs ITE IT8686E, for example).
var compiledFamilies = []string{
	"data/ite.toml",
	"data/winbond.toml",
	"data/natsemi.toml",
	"data/smsc.toml",
}

const compiledConflicts = "data/conflicts.toml"

// ErrFamilyNotFound is returned when a family name is not in the database.
var ErrFamilyNotFound = errors.New("chipdb: family not found")

// ParseError records a failure to decode a chip table.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("chipdb: parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Database is the merged set of chip families. It is built once per
// detection run and only read afterwards.
type Database struct {
	families  []*Family
	conflicts []Conflict
}

// New builds a database from already-decoded families and conflicts.
func New(families []*Family, conflicts []Conflict) *Database {
	return &Database{families: families, conflicts: conflicts}
}

// LoadCompiled parses the embedded vendor tables. An error here means the
// shipped data is broken.
func LoadCompiled() (*Database, error) {
	db := &Database{}
	for _, name := range compiledFamilies {
		raw, err := dataFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("chipdb: read %s: %w", name, err)
		}
		file, err := parseFile(name, raw)
		if err != nil {
			return nil, err
		}
		if file.family == nil {
			return nil, &ParseError{Source: name, Err: errors.New("missing [family] table")}
		}
		if len(file.family.Exit) == 0 {
			return nil, &ParseError{Source: name, Err: errors.New("family has no exit sequence")}
		}
		slog.Debug("loaded chip family", "family", file.family.Name, "chips", len(file.family.Chips))
		db.families = append(db.families, file.family)
	}

	raw, err := dataFS.ReadFile(compiledConflicts)
	if err != nil {
		return nil, fmt.Errorf("chipdb: read %s: %w", compiledConflicts, err)
	}
	file, err := parseFile(compiledConflicts, raw)
	if err != nil {
		return nil, err
	}
	db.conflicts = file.conflicts

	slog.Debug("chip database loaded", "families", len(db.families), "chips", db.ChipCount())
	return db, nil
}

// MustLoadCompiled is LoadCompiled for callers that treat broken embedded
// data as a programming error.
func MustLoadCompiled() *Database {
	db, err := LoadCompiled()
	if err != nil {
		panic(err)
	}
	return db
}

// MergeFile merges an override file into the database. A missing file is
// not an error. A malformed file returns a *ParseError and leaves the
// database untouched.
func (db *Database) MergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("override file not present", "path", path)
			return nil
		}
		return fmt.Errorf("chipdb: read override %s: %w", path, err)
	}
	return db.Merge(path, raw)
}

// Merge decodes data as an override table and merges it. Chips replace the
// entry with the same (driver, devid) in the family of the same name, or are
// appended to it; unknown families are appended whole and must have an exit
// sequence. Conflict groups replace groups of the same name or are appended.
func (db *Database) Merge(source string, data []byte) error {
	file, err := parseFile(source, data)
	if err != nil {
		return err
	}

	if fam := file.family; fam != nil {
		existing, _ := db.Family(fam.Name)
		switch {
		case existing == nil && len(fam.Exit) == 0:
			// A new family is only probed if it can be taken out of config mode.
			return &ParseError{Source: source, Err: fmt.Errorf("new family %q has no [[family.exit]] steps", fam.Name)}
		case existing == nil:
			slog.Debug("override adds family", "family", fam.Name, "chips", len(fam.Chips))
			db.families = append(db.families, fam)
		default:
			for _, chip := range fam.Chips {
				mergeChip(existing, chip)
			}
		}
	}

	for _, c := range file.conflicts {
		replaced := false
		for i := range db.conflicts {
			if db.conflicts[i].Name == c.Name {
				db.conflicts[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			db.conflicts = append(db.conflicts, c)
		}
	}
	return nil
}

func mergeChip(family *Family, chip Descriptor) {
	for i := range family.Chips {
		cur := &family.Chips[i]
		if cur.Driver == chip.Driver && cur.DeviceID == chip.DeviceID {
			slog.Debug("override replaces chip", "family", family.Name, "old", cur.Name, "new", chip.Name,
				"devid", fmt.Sprintf("0x%04X", chip.DeviceID))
			*cur = chip
			return
		}
	}
	slog.Debug("override adds chip", "family", family.Name, "chip", chip.Name,
		"devid", fmt.Sprintf("0x%04X", chip.DeviceID))
	family.Chips = append(family.Chips, chip)
}

// Families returns the families in search order.
func (db *Database) Families() []*Family {
	out := make([]*Family, len(db.families))
	copy(out, db.families)
	return out
}

// Family returns the family with the given name.
func (db *Database) Family(name string) (*Family, error) {
	for _, f := range db.families {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrFamilyNotFound, name)
}

// FindMatch looks up id within a single family, first match wins.
func (db *Database) FindMatch(family string, id uint16) (*Descriptor, bool) {
	f, err := db.Family(family)
	if err != nil {
		return nil, false
	}
	return f.FindMatch(id)
}

// Lookup searches every family in order and returns the first match.
func (db *Database) Lookup(id uint16) (*Family, *Descriptor, bool) {
	for _, f := range db.families {
		if d, ok := f.FindMatch(id); ok {
			return f, d, true
		}
	}
	return nil, nil, false
}

// Conflicts returns the driver priority groups.
func (db *Database) Conflicts() []Conflict {
	out := make([]Conflict, len(db.conflicts))
	copy(out, db.conflicts)
	return out
}

// ChipCount is the total number of descriptors across all families.
func (db *Database) ChipCount() int {
	n := 0
	for _, f := range db.families {
		n += len(f.Chips)
	}
	return n
}

type tomlFile struct {
	Family    *tomlFamily    `toml:"family"`
	Chips     []tomlChip     `toml:"chips"`
	Conflicts []tomlConflict `toml:"conflicts"`
}

type tomlFamily struct {
	Name            string      `toml:"name"`
	EntrySequence2E []int64     `toml:"entry_sequence_2e"`
	EntrySequence4E []int64     `toml:"entry_sequence_4e"`
	Exit            []tomlWrite `toml:"exit"`
}

type tomlWrite struct {
	Target string `toml:"target"`
	Value  int64  `toml:"value"`
}

type tomlChip struct {
	Name      string   `toml:"name"`
	Driver    string   `toml:"driver"`
	DevID     int64    `toml:"devid"`
	DevIDMask int64    `toml:"devid_mask"`
	LogDev    int64    `toml:"logdev"`
	Features  []string `toml:"features"`
}

type tomlConflict struct {
	Name    string   `toml:"name"`
	Drivers []string `toml:"drivers"`
}

type parsedFile struct {
	family    *Family
	conflicts []Conflict
}

func parseFile(source string, data []byte) (*parsedFile, error) {
	var raw tomlFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}

	out := &parsedFile{}
	if raw.Family != nil {
		fam, err := buildFamily(raw.Family, raw.Chips)
		if err != nil {
			return nil, &ParseError{Source: source, Err: err}
		}
		out.family = fam
	} else if len(raw.Chips) > 0 {
		return nil, &ParseError{Source: source, Err: errors.New("[[chips]] given without a [family] table")}
	}

	for i, c := range raw.Conflicts {
		if c.Name == "" || len(c.Drivers) < 2 {
			return nil, &ParseError{Source: source,
				Err: fmt.Errorf("conflict %d: needs a name and at least two drivers", i)}
		}
		out.conflicts = append(out.conflicts, Conflict{
			Name:    c.Name,
			Drivers: append([]string(nil), c.Drivers...),
		})
	}
	return out, nil
}

func buildFamily(raw *tomlFamily, chips []tomlChip) (*Family, error) {
	if raw.Name == "" {
		return nil, errors.New("family name is empty")
	}
	fam := &Family{Name: raw.Name}

	var err error
	if fam.Entry2E, err = toBytes("entry_sequence_2e", raw.EntrySequence2E); err != nil {
		return nil, err
	}
	if fam.Entry4E, err = toBytes("entry_sequence_4e", raw.EntrySequence4E); err != nil {
		return nil, err
	}

	for i, w := range raw.Exit {
		var target PortTarget
		switch w.Target {
		case "index", "addr", "address":
			target = TargetIndex
		case "data":
			target = TargetData
		default:
			return nil, fmt.Errorf("exit step %d: unknown target %q", i, w.Target)
		}
		if w.Value < 0 || w.Value > 0xFF {
			return nil, fmt.Errorf("exit step %d: value 0x%X out of byte range", i, w.Value)
		}
		fam.Exit = append(fam.Exit, Write{Target: target, Value: byte(w.Value)})
	}

	for i, c := range chips {
		d, err := buildDescriptor(c)
		if err != nil {
			return nil, fmt.Errorf("chip %d (%s): %w", i, c.Name, err)
		}
		fam.Chips = append(fam.Chips, d)
	}
	return fam, nil
}

func buildDescriptor(c tomlChip) (Descriptor, error) {
	if c.Name == "" {
		return Descriptor{}, errors.New("name is empty")
	}
	if c.DevID < 0 || c.DevID > 0xFFFF {
		return Descriptor{}, fmt.Errorf("devid 0x%X out of range", c.DevID)
	}
	if c.DevIDMask <= 0 || c.DevIDMask > 0xFFFF {
		return Descriptor{}, fmt.Errorf("devid_mask 0x%X out of range", c.DevIDMask)
	}
	if c.LogDev < 0 || c.LogDev > 0xFF {
		return Descriptor{}, fmt.Errorf("logdev 0x%X out of range", c.LogDev)
	}
	features, err := ParseFeatures(c.Features)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Name:          c.Name,
		Driver:        c.Driver,
		DeviceID:      uint16(c.DevID),
		DeviceIDMask:  uint16(c.DevIDMask),
		LogicalDevice: uint8(c.LogDev),
		Features:      features,
	}, nil
}

func toBytes(field string, values []int64) ([]byte, error) {
	out := make([]byte, 0, len(values))
	for i, v := range values {
		if v < 0 || v > 0xFF {
			return nil, fmt.Errorf("%s[%d]: 0x%X out of byte range", field, i, v)
		}
		out = append(out, byte(v))
	}
	return out, nil
}
