// Package saveparse extracts the broadcast-relevant slice of a game autosave:
// a stable content hash and the country entries. Deep save-format knowledge
// lives behind the Parser interface so the ingest loop never sees it.
package saveparse

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/savecast/pkg/protocol"
)

// Parser turns a save file into the pieces a snapshot needs. Hash identity
// is the contract: equal file content must yield an equal hash.
type Parser interface {
	Parse(path string) (hash string, countries []protocol.Country, err error)
}

// hashLen is the hex prefix kept from the content digest.
const hashLen = 24

// FileParser is the default Parser. The hash is a SHA-256 prefix of the raw
// file bytes. Country extraction is deliberately shallow: it prefers a JSON
// sidecar export next to the save and otherwise scans the save text for
// country tag blocks, skipping anything it cannot read.
type FileParser struct{}

func New() *FileParser { return &FileParser{} }

// tagLine matches the country block opener in text-format saves,
// e.g. `USA={` or `c:GBR = {`.
var tagLine = regexp.MustCompile(`^\s*(?:c:)?([A-Z][A-Z0-9_]{1,3})\s*=\s*\{`)

func (p *FileParser) Parse(path string) (string, []protocol.Country, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("open save: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", nil, fmt.Errorf("hash save: %w", err)
	}
	hash := hex.EncodeToString(h.Sum(nil))[:hashLen]

	if countries, ok := p.sidecar(path); ok {
		return hash, countries, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", nil, fmt.Errorf("rewind save: %w", err)
	}
	countries, err := scanTags(f)
	if err != nil {
		return "", nil, err
	}
	return hash, countries, nil
}

// sidecar loads <save>.json if present: an array of country entries already
// in wire shape. Exports from modded games land here.
func (p *FileParser) sidecar(path string) ([]protocol.Country, bool) {
	data, err := os.ReadFile(path + ".json")
	if err != nil {
		return nil, false
	}
	var countries []protocol.Country
	if err := json.Unmarshal(data, &countries); err != nil {
		return nil, false
	}
	return countries, true
}

// scanTags pulls country tags out of text-format save content. Binary or
// unrecognized content yields an empty list, not an error; the snapshot is
// still useful for hash pacing.
func scanTags(r io.Reader) ([]protocol.Country, error) {
	var countries []protocol.Country
	seen := make(map[string]struct{})

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m := tagLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		tag := strings.ToUpper(m[1])
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		countries = append(countries, protocol.Country{Tag: tag})
		if len(countries) >= protocol.MaxCountries {
			break
		}
	}
	if err := sc.Err(); err != nil {
		// Long binary lines overflow the scanner; fall back to hash-only.
		if err == bufio.ErrTooLong {
			return nil, nil
		}
		return nil, fmt.Errorf("scan save: %w", err)
	}
	return countries, nil
}
