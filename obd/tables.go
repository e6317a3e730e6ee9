package obd

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

//go:embed data/prefix.txt
var defaultPrefixTable []byte

//go:embed data/descriptions.txt
var defaultDescriptionTable []byte

// Tables holds the trouble code prefix and description lookups. A Tables is
// built once and never modified afterwards, so it can be shared freely.
type Tables struct {
	prefix       map[byte]string
	descriptions map[string]string
}

// NewTables copies the given mappings. Prefix keys must be single hex digits.
// Later description maps override earlier ones on key collision.
func NewTables(prefix map[string]string, descriptions ...map[string]string) (*Tables, error) {
	t := &Tables{
		prefix:       make(map[byte]string, len(prefix)),
		descriptions: make(map[string]string),
	}
	for k, v := range prefix {
		if len(k) != 1 || !isHexDigit(k[0]) {
			return nil, fmt.Errorf("prefix table key %q is not a single hex digit", k)
		}
		t.prefix[upper(k[0])] = v
	}
	for _, d := range descriptions {
		for k, v := range d {
			t.descriptions[strings.ToUpper(k)] = v
		}
	}
	return t, nil
}

// DefaultTables returns the tables compiled into the binary: the SAE J2012
// prefix digits and a generic description set.
func DefaultTables() *Tables {
	prefix, err := ParseTable(bytes.NewReader(defaultPrefixTable))
	if err != nil {
		panic(fmt.Sprintf("embedded prefix table: %v", err))
	}
	desc, err := ParseTable(bytes.NewReader(defaultDescriptionTable))
	if err != nil {
		panic(fmt.Sprintf("embedded description table: %v", err))
	}
	t, err := NewTables(prefix, desc)
	if err != nil {
		panic(fmt.Sprintf("embedded tables: %v", err))
	}
	return t
}

// LoadTables reads the prefix table and description tables from fs. An empty
// prefixPath selects the embedded prefix table; no descriptionPaths selects
// the embedded descriptions.
func LoadTables(fs afero.Fs, prefixPath string, descriptionPaths ...string) (*Tables, error) {
	var (
		prefix map[string]string
		err    error
	)
	if prefixPath == "" {
		prefix, err = ParseTable(bytes.NewReader(defaultPrefixTable))
	} else {
		prefix, err = parseTableFile(fs, prefixPath)
	}
	if err != nil {
		return nil, err
	}

	var descs []map[string]string
	if len(descriptionPaths) == 0 {
		d, err := ParseTable(bytes.NewReader(defaultDescriptionTable))
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	for _, p := range descriptionPaths {
		d, err := parseTableFile(fs, p)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}

	t, err := NewTables(prefix, descs...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", prefixPath, err)
	}
	log.Debug().Str("component", "obd").
		Int("prefixes", len(t.prefix)).
		Int("descriptions", len(t.descriptions)).
		Msg("lookup tables loaded")
	return t, nil
}

func parseTableFile(fs afero.Fs, path string) (map[string]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer f.Close()
	m, err := ParseTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseTable reads one "KEY value text" entry per line. The key ends at the
// first whitespace run. Blank lines and lines starting with # are skipped.
func ParseTable(r io.Reader) (map[string]string, error) {
	m := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value := line, ""
		if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
			key, value = line[:i], strings.TrimSpace(line[i:])
		}
		m[key] = value
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	return m, nil
}

// Prefix returns the code prefix for the first hex digit of a group.
func (t *Tables) Prefix(digit byte) (string, bool) {
	p, ok := t.prefix[upper(digit)]
	return p, ok
}

// Description returns the text for a full code such as P0133.
func (t *Tables) Description(code string) (string, bool) {
	d, ok := t.descriptions[strings.ToUpper(code)]
	return d, ok
}

// Len returns the number of description entries.
func (t *Tables) Len() int {
	return len(t.descriptions)
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
