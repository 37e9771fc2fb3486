package provider

import (
	"bufio"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// MaxLineBytes is the longest stdout line kept intact. Tool results can be
// enormous; anything past this is cut and marked.
const MaxLineBytes = 1 << 20

// TruncationMarker is appended to lines cut at MaxLineBytes.
const TruncationMarker = "...[line truncated]"

// ExtractSessionID recognizes the three init line shapes and returns the
// session or thread identifier, or "" when the line is not an init line.
//
//	{"type":"system","subtype":"init","session_id":...}   claude
//	{"type":"thread.started","thread_id":...}             codex
//	{"type":"init","session_id":...}                      gemini
func ExtractSessionID(line string) string {
	if !gjson.Valid(line) {
		return ""
	}
	typ := gjson.Get(line, "type").String()
	switch typ {
	case "system":
		if gjson.Get(line, "subtype").String() == "init" {
			return gjson.Get(line, "session_id").String()
		}
	case "thread.started":
		return gjson.Get(line, "thread_id").String()
	case "init":
		return gjson.Get(line, "session_id").String()
	}
	return ""
}

// lineStream reads r line by line, truncating oversized lines while keeping
// line boundaries intact, and forwards each line to fn.
func lineStream(r io.Reader, fn func(line string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf strings.Builder
	truncated := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if len(chunk) > 0 && !truncated {
			room := MaxLineBytes - buf.Len()
			if room <= 0 {
				truncated = true
			} else if len(chunk) > room {
				buf.Write(chunk[:room])
				truncated = true
			} else {
				buf.Write(chunk)
			}
		}
		if err != nil {
			if buf.Len() > 0 || truncated {
				fn(finishLine(&buf, truncated))
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
		if isPrefix {
			// More of the same physical line follows.
			continue
		}
		fn(finishLine(&buf, truncated))
		truncated = false
	}
}

func finishLine(buf *strings.Builder, truncated bool) string {
	line := buf.String()
	buf.Reset()
	if truncated {
		return line + TruncationMarker
	}
	return line
}
