package datanorm

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ParseResult holds the structurally valid records of one source in input
// order, plus one ParseError per record that could not be decoded.
type ParseResult struct {
	Source  Source
	Columns []string
	Records []RawRecord
	Errors  []ParseError
}

// Total is the number of input records seen, decoded or not.
func (p *ParseResult) Total() int {
	return len(p.Records) + len(p.Errors)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// stripBOM wraps a reader to drop a leading UTF-8 BOM if present.
func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}
	return br
}

// ParseDelimited reads a header row and data rows separated by delim. Each
// physical line is decoded on its own, so an unbalanced quote costs that one
// line and never swallows the lines after it. Rows whose field count differs
// from the header are parse errors. Blank lines are skipped.
func ParseDelimited(src Source, r io.Reader, delim rune) (*ParseResult, error) {
	br := bufio.NewReader(stripBOM(r))
	result := &ParseResult{Source: src}

	var (
		columns    []string
		haveHeader bool
	)
	seq, lineNo := 0, 0
	for {
		raw, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: read %s: %v", ErrSourceUnreadable, src, err)
		}
		atEOF := errors.Is(err, io.EOF)
		if raw == "" && atEOF {
			break
		}
		lineNo++

		text := strings.TrimRight(raw, "\r\n")
		if strings.TrimSpace(text) == "" {
			if atEOF {
				break
			}
			continue
		}

		row, derr := splitLine(text, delim)

		if !haveHeader {
			haveHeader = true
			if derr != nil {
				return nil, fmt.Errorf("%w: read %s header: %v", ErrSourceUnreadable, src, derr)
			}
			columns, err = MapColumns(src, row)
			if err != nil {
				return nil, err
			}
			result.Columns = columns
		} else {
			seq++
			switch {
			case derr != nil:
				result.Errors = append(result.Errors, ParseError{Source: src, Seq: seq, Line: lineNo, Message: derr.Error()})
			case len(row) != len(columns):
				result.Errors = append(result.Errors, ParseError{
					Source:  src,
					Seq:     seq,
					Line:    lineNo,
					Message: fmt.Sprintf("row has %d fields, header has %d", len(row), len(columns)),
				})
			default:
				result.Records = append(result.Records, RawRecord{Seq: seq, Line: lineNo, Fields: rowFields(columns, row)})
			}
		}

		if atEOF {
			break
		}
	}

	return result, nil
}

// splitLine decodes one physical line. Quoting is honoured within the line
// only; a quote left open runs to the end of the line.
func splitLine(text string, delim rune) ([]string, error) {
	lr := csv.NewReader(strings.NewReader(text))
	lr.Comma = delim
	lr.FieldsPerRecord = -1
	lr.LazyQuotes = true

	row, err := lr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return nil, perr.Err
	}
	return row, err
}

func rowFields(columns, row []string) map[string]string {
	fields := make(map[string]string, len(columns))
	for i, col := range columns {
		val := strings.TrimSpace(row[i])
		// Two headers can alias the same field; the first non-empty one wins.
		if existing, ok := fields[col]; ok && existing != "" {
			continue
		}
		fields[col] = val
	}
	return fields
}

// ParseJSONLines reads one JSON object per non-blank line. JSON nulls are
// dropped so that an absent field and a null field look the same downstream.
func ParseJSONLines(src Source, r io.Reader) (*ParseResult, error) {
	br := bufio.NewReader(stripBOM(r))
	result := &ParseResult{Source: src}

	seq, lineNo := 0, 0
	for {
		raw, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: read %s: %v", ErrSourceUnreadable, src, err)
		}
		atEOF := errors.Is(err, io.EOF)
		if raw == "" && atEOF {
			break
		}
		lineNo++

		text := strings.TrimSpace(raw)
		if text != "" {
			seq++
			fields, perr := decodeJSONObject(src, text)
			if perr != nil {
				result.Errors = append(result.Errors, ParseError{
					Source:  src,
					Seq:     seq,
					Line:    lineNo,
					Message: perr.Error(),
				})
			} else {
				result.Records = append(result.Records, RawRecord{Seq: seq, Line: lineNo, Fields: fields})
			}
		}

		if atEOF {
			break
		}
	}

	return result, nil
}

func decodeJSONObject(src Source, text string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	if obj == nil {
		return nil, errors.New("line is JSON null, not an object")
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make(map[string]string, len(obj))
	exact := make(map[string]bool, len(obj))
	for _, k := range keys {
		s, ok := jsonScalar(obj[k])
		if !ok {
			continue
		}
		col := CanonicalColumn(src, k)
		isExact := strings.ToLower(strings.TrimSpace(k)) == col
		// Aliases can collide; the canonical key wins, then the first non-empty alias.
		if existing, dup := fields[col]; dup && (exact[col] || (existing != "" && !isExact)) {
			continue
		}
		fields[col] = strings.TrimSpace(s)
		exact[col] = isExact
	}
	return fields, nil
}

// jsonScalar renders a decoded JSON value as text; ok is false for null.
func jsonScalar(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t), true
		}
		return string(b), true
	}
}
