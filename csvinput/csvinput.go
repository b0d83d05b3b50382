// Package csvinput reads record identifiers from CSV files.
//
// Inputs are files or directories; directories are scanned recursively for
// *.csv files. Each file is keyed by its name without extension, and a later
// file with the same name replaces an earlier one.
package csvinput

import (
	"encoding/csv"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/logger"
)

// DefaultColumn is the header of the identifier column
const DefaultColumn = "item_uuid"

const byteOrderMark = "\ufeff"

// File is one CSV input and the identifiers read from it
type File struct {
	Name string
	Path string
	IDs  []string
}

// Input is the identifiers of every discovered file, de-duplicated across files
type Input struct {
	Files []File
	IDs   []string
}

// Source describes the input for the run record
func (in *Input) Source() string {
	paths := make([]string, len(in.Files))
	for i, f := range in.Files {
		paths[i] = f.Path
	}
	return strings.Join(paths, ",")
}

// Discover maps file stem to path for every CSV reachable from paths
func Discover(paths []string) (map[string]string, error) {
	found := make(map[string]string)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.WithHint(
				errors.Mark(errors.Wrapf(err, "input %s", p), errors.ErrNoInput),
				"pass a CSV file or a directory containing CSV files")
		}
		if !info.IsDir() {
			found[stem(p)] = p
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".csv") {
				found[stem(path)] = path
			}
			return nil
		})
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "scan %s", p), errors.ErrNoInput)
		}
	}
	return found, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ReadIDs returns the trimmed, non-blank values of column in file order.
// Duplicates within the file are kept.
func ReadIDs(r io.Reader, column string) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.Mark(errors.New("empty CSV"), errors.ErrNoInput)
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read CSV header"), errors.ErrNoInput)
	}

	idx := -1
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, byteOrderMark)) == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errors.WithHint(
			errors.Mark(errors.Newf("CSV has no %q column", column), errors.ErrNoInput),
			"set csv.column or MINT__CSV__COLUMN to the header holding item ids")
	}

	var ids []string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "read CSV row"), errors.ErrNoInput)
		}
		if idx >= len(rec) {
			continue
		}
		if v := strings.TrimSpace(rec[idx]); v != "" {
			ids = append(ids, v)
		}
	}
	return ids, nil
}

// ReadFile reads the identifiers of one CSV file
func ReadFile(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open %s", path), errors.ErrNoInput)
	}
	defer f.Close()

	ids, err := ReadIDs(f, column)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return ids, nil
}

// Load discovers and reads every CSV under paths. Files are read in name
// order; identifiers keep their first position across files. No identifiers
// at all is ErrNoInput.
func Load(paths []string, column string) (*Input, error) {
	if column == "" {
		column = DefaultColumn
	}
	log := logger.ComponentLogger("csvinput")

	found, err := Discover(paths)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)

	in := &Input{}
	seen := make(map[string]bool)
	for _, name := range names {
		ids, err := ReadFile(found[name], column)
		if err != nil {
			return nil, err
		}
		in.Files = append(in.Files, File{Name: name, Path: found[name], IDs: ids})
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				in.IDs = append(in.IDs, id)
			}
		}
		log.Debugw("Read CSV", "file", found[name], logger.FieldCount, len(ids))
	}

	if len(in.IDs) == 0 {
		return nil, errors.WithHint(
			errors.Mark(errors.Newf("no item ids found in %s", strings.Join(paths, ", ")), errors.ErrNoInput),
			"check the CSV column name and that the files have rows")
	}
	return in, nil
}

// NonUUIDs returns the identifiers that do not parse as UUIDs
func NonUUIDs(ids []string) []string {
	var bad []string
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			bad = append(bad, id)
		}
	}
	return bad
}
