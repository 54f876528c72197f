package solcov

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSourceMapDecode is returned when a compiler source map cannot be
// decoded. It is the only fatal error of the mapping engine: a contract
// with an undecodable source map cannot be partially mapped.
var ErrSourceMapDecode = errors.New("malformed source map")

// DecodeSourceMap parses a compiler source map string into fully
// resolved entries, one per emitted instruction.
//
// The wire format is a semicolon separated list of colon separated
// records "start:length:file:jump". Any omitted component inherits the
// value of the preceding record, which is the format's compression
// trick: most records only change a single field. The first record must
// be fully specified. A file index of -1 marks compiler-injected code
// that is not attributable to any source file; it decodes cleanly and
// is left for consumers to skip.
func DecodeSourceMap(sourceMap string) ([]SourceMapEntry, error) {
	if sourceMap == "" {
		return nil, fmt.Errorf("%w: empty input", ErrSourceMapDecode)
	}

	records := strings.Split(sourceMap, ";")
	entries := make([]SourceMapEntry, 0, len(records))

	var last SourceMapEntry
	for i, record := range records {
		entry := last

		// Newer compiler versions append extra fields (modifier
		// depth); everything past the fourth is ignored.
		fields := strings.Split(record, ":")
		if len(fields) > 4 {
			fields = fields[:4]
		}

		for j, field := range fields {
			// An empty field, or a bare "-" in a numeric
			// position, inherits the previous record's value.
			if field == "" || (j < 3 && field == "-") {
				continue
			}
			switch j {
			case 0, 1, 2:
				n, err := strconv.Atoi(field)
				if err != nil {
					return nil, fmt.Errorf("%w: entry %d field %d: %q", ErrSourceMapDecode, i, j, field)
				}
				switch j {
				case 0:
					entry.Start = n
				case 1:
					entry.Length = n
				case 2:
					entry.FileID = n
				}
			case 3:
				entry.Jump = JumpKind(field)
			}
		}

		if i == 0 {
			if len(fields) < 4 {
				return nil, fmt.Errorf("%w: first entry has %d fields", ErrSourceMapDecode, len(fields))
			}
			for j, field := range fields {
				if field == "" {
					return nil, fmt.Errorf("%w: first entry field %d is empty", ErrSourceMapDecode, j)
				}
			}
		}

		entries = append(entries, entry)
		last = entry
	}

	return entries, nil
}
